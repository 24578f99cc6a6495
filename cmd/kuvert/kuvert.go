package main

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/modfin/kuvert"
	"github.com/urfave/cli/v2"
)

func main() {
	app := &cli.App{
		Name:  "kuvert",
		Usage: "a cli for sending email through a kuvert gateway",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "host",
				Usage:   "gateway base url",
				EnvVars: []string{"KUVERT_HOST"},
				Value:   "http://localhost:8080",
			},
			&cli.StringFlag{
				Name:    "key",
				Usage:   "tenant api key",
				EnvVars: []string{"KUVERT_KEY"},
			},
			&cli.StringFlag{
				Name:    "admin-token",
				Usage:   "admin token for key management",
				EnvVars: []string{"KUVERT_ADMIN_TOKEN"},
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "send",
				Usage:  "send an email",
				Action: send,
				Flags: []cli.Flag{
					&cli.StringSliceFlag{Name: "to", Usage: "recipient email"},
					&cli.StringSliceFlag{Name: "cc"},
					&cli.StringSliceFlag{Name: "bcc"},
					&cli.StringFlag{Name: "from"},
					&cli.StringFlag{Name: "subject"},
					&cli.StringFlag{Name: "text"},
					&cli.StringFlag{Name: "html"},
					&cli.StringFlag{Name: "template", Usage: "styling template name"},
					&cli.StringSliceFlag{Name: "attach", Usage: "path to file attachment"},
					&cli.StringFlag{Name: "idempotency-key"},
				},
			},
			{
				Name:      "message",
				Usage:     "look up a message and its events",
				ArgsUsage: "<message id>",
				Action:    message,
			},
			{
				Name:   "messages",
				Usage:  "list messages, newest first",
				Action: messages,
				Flags: []cli.Flag{
					&cli.IntFlag{Name: "limit", Value: 50},
					&cli.StringFlag{Name: "cursor"},
				},
			},
			{
				Name:  "keys",
				Usage: "manage api keys (admin)",
				Subcommands: []*cli.Command{
					{
						Name:   "create",
						Action: createKey,
						Flags: []cli.Flag{
							&cli.StringFlag{Name: "name", Required: true},
							&cli.StringFlag{Name: "from-email"},
							&cli.StringFlag{Name: "from-name"},
						},
					},
					{
						Name:   "list",
						Action: listKeys,
					},
					{
						Name:      "revoke",
						ArgsUsage: "<key id>",
						Action:    revokeKey,
					},
				},
			},
		},
	}

	err := app.Run(os.Args)
	if err != nil {
		_, _ = fmt.Fprintln(os.Stderr, "got err", err)
		os.Exit(1)
	}
}

func client(c *cli.Context) *kuvert.Client {
	return kuvert.NewClient(c.String("key"), c.String("host"))
}

func send(c *cli.Context) error {

	toAddresses := func(emails []string) []kuvert.Address {
		var addrs []kuvert.Address
		for _, e := range emails {
			addrs = append(addrs, kuvert.AddressOf(e))
		}
		return addrs
	}

	req := kuvert.SendRequest{
		To:             toAddresses(c.StringSlice("to")),
		Cc:             toAddresses(c.StringSlice("cc")),
		Bcc:            toAddresses(c.StringSlice("bcc")),
		Subject:        c.String("subject"),
		Text:           c.String("text"),
		HTML:           c.String("html"),
		Template:       c.String("template"),
		IdempotencyKey: c.String("idempotency-key"),
	}
	if from := c.String("from"); from != "" {
		addr := kuvert.AddressOf(from)
		req.From = &addr
	}

	for _, path := range c.StringSlice("attach") {
		content, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		req.Attachments = append(req.Attachments, kuvert.Attachment{
			Name:          filepath.Base(path),
			ContentBase64: base64.StdEncoding.EncodeToString(content),
		})
	}

	receipt, err := client(c).Send(c.Context, req)
	if err != nil {
		return err
	}
	return printJSON(receipt)
}

func message(c *cli.Context) error {
	id := c.Args().First()
	if id == "" {
		return fmt.Errorf("a message id must be provided")
	}
	msg, err := client(c).Message(c.Context, id)
	if err != nil {
		return err
	}
	events, err := client(c).MessageEvents(c.Context, id)
	if err != nil {
		return err
	}
	return printJSON(map[string]interface{}{"message": msg, "events": events.Events})
}

func messages(c *cli.Context) error {
	list, err := client(c).Messages(c.Context, c.Int("limit"), c.String("cursor"))
	if err != nil {
		return err
	}
	return printJSON(list)
}

func admin(c *cli.Context, method, path string, body interface{}) (json.RawMessage, error) {
	var buff io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		buff = bytes.NewBuffer(b)
	}
	host := strings.TrimRight(c.String("host"), "/")
	req, err := http.NewRequestWithContext(c.Context, method, host+path, buff)
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-Admin-Token", c.String("admin-token"))
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("gateway returned status %d: %s", resp.StatusCode, string(raw))
	}
	return raw, nil
}

func createKey(c *cli.Context) error {
	raw, err := admin(c, http.MethodPost, "/admin/keys", map[string]interface{}{
		"name":             c.String("name"),
		"defaultFromEmail": c.String("from-email"),
		"defaultFromName":  c.String("from-name"),
	})
	if err != nil {
		return err
	}
	return printRaw(raw)
}

func listKeys(c *cli.Context) error {
	raw, err := admin(c, http.MethodGet, "/admin/keys", nil)
	if err != nil {
		return err
	}
	return printRaw(raw)
}

func revokeKey(c *cli.Context) error {
	id := c.Args().First()
	if id == "" {
		return fmt.Errorf("a key id must be provided")
	}
	raw, err := admin(c, http.MethodDelete, "/admin/keys/"+id, nil)
	if err != nil {
		return err
	}
	return printRaw(raw)
}

func printJSON(v interface{}) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(b))
	return nil
}

func printRaw(raw json.RawMessage) error {
	var v interface{}
	if err := json.Unmarshal(raw, &v); err != nil {
		fmt.Println(string(raw))
		return nil
	}
	return printJSON(v)
}
