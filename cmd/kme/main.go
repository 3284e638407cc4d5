// Package main はKMEシミュレータサーバーのエントリポイント。
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"qkd-mail-service/config"
	"qkd-mail-service/internal/handler"
	"qkd-mail-service/internal/infra"
	"qkd-mail-service/internal/metrics"
	"qkd-mail-service/internal/repository"
	"qkd-mail-service/internal/usecase"
)

func main() {
	if err := run(); err != nil {
		slog.Error("kme terminated", "error", err)
		os.Exit(1)
	}
}

func run() error {
	ctx := context.Background()

	// .envファイルを読み込む（存在しない場合は無視）
	// 既存の環境変数は上書きしない
	_ = godotenv.Load()

	// 設定読み込み
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	// トレーサー初期化（ロガー設定の前に実行）
	tp, err := infra.InitTracer(ctx, cfg)
	if err != nil {
		return fmt.Errorf("initializing tracer: %w", err)
	}
	if tp != nil {
		defer func() {
			if err := tp.Shutdown(ctx); err != nil {
				slog.Error("failed to shutdown tracer", "error", err)
			}
		}()
	}

	// トレース情報付きロガーを設定
	infra.SetupLogger(cfg)

	// 鍵ストア初期化
	store, closeStore, err := openKeyStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	if err := store.Load(ctx); err != nil {
		return fmt.Errorf("loading key store: %w", err)
	}

	// DI
	reg := metrics.NewRegistry()
	if n, err := store.Count(ctx); err == nil {
		reg.SetStoredKeys(n)
	}
	service := usecase.NewKMEService(store, usecase.NewRandomKeyGenerator(), cfg.KMEProfile(), reg)
	h := handler.NewKMEHandler(service, store, cfg.KeyStoreDriver)
	router := handler.NewRouter(h, reg.Handler())

	// サーバー起動
	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Graceful shutdown
	done := make(chan struct{})
	go func() {
		defer close(done)
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
		<-sigCh

		slog.Info("shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown error", "error", err)
		}
	}()

	slog.Info("starting KME simulator",
		"port", cfg.Port,
		"key_store", cfg.KeyStoreDriver,
	)
	if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server error: %w", err)
	}
	<-done

	// 停止時にも鍵ストアを書き出す
	if err := store.Persist(ctx); err != nil {
		slog.Error("failed to persist key store on shutdown", "error", err)
	}
	slog.Info("server stopped")
	return nil
}

// openKeyStore はKEY_STORE_DRIVERに応じた鍵ストアを生成する。
func openKeyStore(ctx context.Context, cfg *config.Config) (usecase.KeyStore, func(), error) {
	if cfg.KeyStoreDriver == config.DriverFile {
		return repository.NewFileKeyStore(cfg.KeyStorePath), func() {}, nil
	}

	db, err := infra.NewDB(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("initializing database: %w", err)
	}

	// KMS_KEY_NAMEがあれば鍵素材をCloud KMSで暗号化して保存する
	var sealer repository.KeySealer
	closeFn := func() {}
	if cfg.KMSKeyName != "" {
		kmsSealer, err := infra.NewKMSSealer(ctx, cfg.KMSKeyName)
		if err != nil {
			return nil, nil, fmt.Errorf("initializing KMS sealer: %w", err)
		}
		sealer = kmsSealer
		closeFn = func() {
			if err := kmsSealer.Close(); err != nil {
				slog.Error("failed to close KMS client", "error", err)
			}
		}
	}

	return repository.NewKeyRepository(db, sealer), closeFn, nil
}
