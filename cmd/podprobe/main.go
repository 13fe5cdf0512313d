// Command podprobe pokes at a personal data store by hand: fetch and
// replace documents, append follow triples, mint keys and outbox
// tokens. Useful when setting up an actor or debugging a federation
// exchange.
package main

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/solipub/solipub/activitypub"
	"github.com/solipub/solipub/util"
	"github.com/solipub/solipub/web"
)

var rootCmd = &cobra.Command{
	Use:   "podprobe",
	Short: "Probe and prepare a personal data store",
}

var getCmd = &cobra.Command{
	Use:   "get <url>",
	Short: "Fetch a document from the pod",
	Args:  cobra.ExactArgs(1),
	RunE:  runGet,
}

var putCmd = &cobra.Command{
	Use:   "put <url> <file>",
	Short: "Create or replace a document on the pod ('-' reads stdin)",
	Args:  cobra.ExactArgs(2),
	RunE:  runPut,
}

var followCmd = &cobra.Command{
	Use:   "follow <doc-url> <follower> <followed>",
	Short: "Append a follow triple to a graph document",
	Args:  cobra.ExactArgs(3),
	RunE:  runFollow,
}

var keygenCmd = &cobra.Command{
	Use:   "keygen",
	Short: "Generate a PEM keypair for an actor",
	Run: func(cmd *cobra.Command, args []string) {
		keys := util.GeneratePemKeypair()
		fmt.Print(keys.Private)
		fmt.Print(keys.Public)
	},
}

var tokenCmd = &cobra.Command{
	Use:   "token <webid>",
	Short: "Mint an outbox bearer token for the given identity",
	Args:  cobra.ExactArgs(1),
	RunE:  runToken,
}

func init() {
	rootCmd.PersistentFlags().String("token", "", "Bearer token for pod requests")
	rootCmd.PersistentFlags().Duration("timeout", 10*time.Second, "Request timeout")
	putCmd.Flags().String("content-type", "application/ld+json", "Content type of the uploaded document")
	tokenCmd.Flags().String("secret", "", "Signing secret (defaults to SOLIPUB_AUTHSECRET)")

	rootCmd.AddCommand(getCmd, putCmd, followCmd, keygenCmd, tokenCmd)
}

func podClient(cmd *cobra.Command) (*http.Client, string) {
	timeout, _ := cmd.Flags().GetDuration("timeout")
	token, _ := cmd.Flags().GetString("token")
	return &http.Client{Timeout: timeout}, token
}

func runGet(cmd *cobra.Command, args []string) error {
	client, token := podClient(cmd)

	req, err := http.NewRequest(http.MethodGet, args[0], nil)
	if err != nil {
		return err
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	fmt.Fprintf(os.Stderr, "%s\n", resp.Status)
	_, err = io.Copy(os.Stdout, resp.Body)
	return err
}

func runPut(cmd *cobra.Command, args []string) error {
	client, token := podClient(cmd)
	contentType, _ := cmd.Flags().GetString("content-type")

	var body io.Reader
	if args[1] == "-" {
		body = os.Stdin
	} else {
		f, err := os.Open(args[1])
		if err != nil {
			return err
		}
		defer f.Close()
		body = f
	}

	req, err := http.NewRequest(http.MethodPut, args[0], body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", contentType)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	fmt.Println(resp.Status)
	return nil
}

func runFollow(cmd *cobra.Command, args []string) error {
	client, token := podClient(cmd)
	docURL, follower, followed := args[0], args[1], args[2]

	patch := fmt.Sprintf(`
    @prefix solid: <http://www.w3.org/ns/solid/terms#>.
    _:patch a solid:InsertDeletePatch;
      solid:inserts { <%s> <%s> <%s>. } .`, follower, activitypub.FollowsPredicate, followed)

	req, err := http.NewRequest(http.MethodPatch, docURL, strings.NewReader(patch))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "text/n3")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	fmt.Println(resp.Status)
	return nil
}

func runToken(cmd *cobra.Command, args []string) error {
	secret, _ := cmd.Flags().GetString("secret")
	if secret == "" {
		secret = os.Getenv("SOLIPUB_AUTHSECRET")
	}
	if secret == "" {
		return fmt.Errorf("no signing secret: pass --secret or set SOLIPUB_AUTHSECRET")
	}

	token, err := web.NewTokenVerifier([]byte(secret)).IssueToken(args[0])
	if err != nil {
		return err
	}
	fmt.Println(token)
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
