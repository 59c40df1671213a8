// Command devtoken issues an access token signed with the configured secret,
// for local testing with dmclient.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/damoang/angple-messenger/internal/config"
	"github.com/damoang/angple-messenger/pkg/jwt"
)

func main() {
	config.LoadDotEnv()

	configPath := flag.String("config", "configs/config.local.yaml", "config file path")
	user := flag.String("user", "", "user id")
	nickname := flag.String("nickname", "", "display name")
	flag.Parse()

	if *user == "" {
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	token, err := jwt.NewManager(cfg.JWT.Secret, cfg.JWT.ExpiresIn).GenerateToken(*user, *nickname)
	if err != nil {
		fmt.Fprintf(os.Stderr, "token: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(token)
}
