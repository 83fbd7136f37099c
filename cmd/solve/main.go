package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"

	"keepalive_engine/internal/app"
	"keepalive_engine/internal/config"
	"keepalive_engine/internal/solver"
)

// solve 读取一张验证码图片，使用配置中的识别服务输出结果，便于单独验证 solver 配置。
func main() {
	configPath := flag.String("config", "./config.yaml", "path to config.yaml")
	envPath := flag.String("env", ".env", "path to .env file (optional)")
	imagePath := flag.String("image", "", "challenge image to solve")
	flag.Parse()

	if *imagePath == "" {
		log.Fatal("-image is required")
	}
	if err := config.LoadDotEnv(*envPath); err != nil {
		log.Fatalf("load env: %v", err)
	}
	path := *configPath
	if _, err := os.Stat(path); os.IsNotExist(err) {
		path = ""
	}
	cfg, err := config.Load(path)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if cfg.Solver.Endpoint == "" {
		log.Fatal("solver.endpoint is not configured")
	}

	img, err := os.ReadFile(*imagePath)
	if err != nil {
		log.Fatalf("read image: %v", err)
	}

	sv := solver.NewHTTP(app.SolverConfig(cfg.Solver))
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Solver.Timeout()*2)
	defer cancel()

	answer, err := sv.Solve(ctx, img)
	if err != nil {
		log.Fatalf("solve: %v", err)
	}
	fmt.Printf("answer: %s (usable=%t, %d bytes in)\n", answer, solver.Usable(answer), len(img))
}
