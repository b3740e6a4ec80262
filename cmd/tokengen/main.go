// tokengen 用服务配置中的JWT密钥签发测试Token
//
// 账本服务不负责登录，本地调试和端到端测试用它拿Token：
//
//	go run ./cmd/tokengen -user 1 -role staff
//	go run ./cmd/tokengen -user 42 -role customer -config config/config.yaml
package main

import (
	"encoding/json"
	"flag"
	"log"
	"os"

	"github.com/xiebiao/stockledger/internal/infrastructure/config"
	"github.com/xiebiao/stockledger/pkg/jwt"
)

func main() {
	var (
		userID   = flag.Uint("user", 1, "用户ID")
		username = flag.String("name", "", "用户名")
		role     = flag.String("role", jwt.RoleCustomer, "角色: customer | staff | admin")
		path     = flag.String("config", "", "配置文件路径，默认按STOCKLEDGER_ENV查找")
	)
	flag.Parse()

	var (
		cfg *config.Config
		err error
	)
	if *path != "" {
		cfg, err = config.LoadFile(*path)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		log.Fatalf("加载配置失败: %v", err)
	}

	tok, err := jwt.NewManager(cfg.JWT.Secret, cfg.JWT.AccessTokenExpire).
		GenerateToken(*userID, *username, *role)
	if err != nil {
		log.Fatalf("签发Token失败: %v", err)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(tok); err != nil {
		log.Fatal(err)
	}
}
