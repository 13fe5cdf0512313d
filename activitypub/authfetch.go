package activitypub

import (
	"context"
	"net/http"
)

// BearerAuthFetcher authorizes pod requests with a pre-provisioned
// bearer token. Pods that accept richer delegated-authentication flows
// sit behind the same AuthFetcher interface; the engine never knows the
// difference.
type BearerAuthFetcher struct {
	Client Doer
	Token  string
}

func (f *BearerAuthFetcher) AuthFetch(ctx context.Context, webID, issuer string) (Doer, error) {
	if f.Token == "" {
		return f.Client, nil
	}
	return &bearerDoer{client: f.Client, token: f.Token}, nil
}

type bearerDoer struct {
	client Doer
	token  string
}

func (d *bearerDoer) Do(req *http.Request) (*http.Response, error) {
	req.Header.Set("Authorization", "Bearer "+d.token)
	return d.client.Do(req)
}
