package main

import (
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/Joseph-Soncco/app-pruebas/cmd/internal/app"
	"github.com/Joseph-Soncco/app-pruebas/cmd/internal/auth"
)

const usage = `usage: chatd [command]

commands:
  serve                        run the chat server (default)
  token -user ID [-name NAME]  issue an access token with the configured secret key
  keygen                       print a fresh PASETO v4 key pair as env lines
`

func main() {
	cmd := "serve"
	if len(os.Args) > 1 {
		cmd = os.Args[1]
	}

	var err error
	switch cmd {
	case "serve":
		err = app.Run()
	case "token":
		err = issueToken(os.Args[2:])
	case "keygen":
		secretHex, publicHex := auth.GenerateKeyPairHex()
		fmt.Printf("CHAT_PASETO_V4_SECRET_KEY_HEX=%s\nCHAT_PASETO_V4_PUBLIC_KEY_HEX=%s\n", secretHex, publicHex)
	case "-h", "--help", "help":
		fmt.Print(usage)
	default:
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
	if err != nil {
		log.Fatal(err)
	}
}

func issueToken(args []string) error {
	fs := flag.NewFlagSet("token", flag.ContinueOnError)
	user := fs.String("user", "", "user id (required)")
	name := fs.String("name", "", "display name")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *user == "" {
		return errors.New("token: -user is required")
	}

	if err := app.LoadDotEnv(); err != nil {
		return err
	}
	cfg, err := auth.LoadConfigFromEnv()
	if err != nil {
		return err
	}
	if cfg.PasetoV4SecretKeyHex == "" {
		return errors.New("token: CHAT_PASETO_V4_SECRET_KEY_HEX is required to sign tokens")
	}
	tokens, err := auth.NewPasetoV4PublicManager(cfg)
	if err != nil {
		return err
	}

	tok, exp, err := tokens.Issue(*user, *name, time.Now().UTC())
	if err != nil {
		return err
	}
	fmt.Println(tok)
	fmt.Fprintf(os.Stderr, "expires %s\n", exp.Format(time.RFC3339))
	return nil
}
