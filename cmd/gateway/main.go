// The gateway binary runs one WebSocket gateway process: it terminates
// client sockets, maintains presence in redis and relays room events
// arriving over the redis bridge channel.
//
// Configuration (environment):
//   - GATEWAY_ADDR      listen address (default ":8080")
//   - GATEWAY_WS_PATH   websocket path (default "/ws")
//   - BRIDGE_CHANNEL    redis pub/sub channel (default "room-events")
//   - REDIS_ADDR, REDIS_PASSWORD, REDIS_DB
//   - PRESENCE_TTL_SEC  presence key TTL, 0 disables expiry
//   - TYPING_IDLE_MS    typing auto-expire (default 2000)
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"NProject/logger"
	"NProject/service/bridge"
	"NProject/service/gateway"
	"NProject/service/rooms"
	"NProject/service/storage"
	redis2 "NProject/service/storage/redis"
	"NProject/tools"
	"NProject/tools/ids"
)

// insecureResolver treats the connect token as the user id. It stands in
// until a real identity service is wired via gateway.UserResolver.
type insecureResolver struct{}

func (insecureResolver) Resolve(_ context.Context, token string) (string, error) {
	if token == "" {
		return "", os.ErrInvalid
	}
	return token, nil
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := redis2.InitRedis(redis2.Config{
		Addr:     tools.GetEnv("REDIS_ADDR", "127.0.0.1:6379"),
		Password: tools.GetEnv("REDIS_PASSWORD", ""),
		DB:       tools.GetEnvInt("REDIS_DB", 0),
	}); err != nil {
		logger.Errorf("[Gateway] redis init failed: %v", err)
		os.Exit(1)
	}
	defer redis2.CloseRedis()

	presenceTTL := time.Duration(tools.GetEnvInt("PRESENCE_TTL_SEC", 0)) * time.Second
	viewers := storage.NewViewerStore(presenceTTL)
	typing := storage.NewTypingStore(presenceTTL)
	online := storage.NewOnlineStore(presenceTTL)

	b := bridge.NewBridge(tools.GetEnv("BRIDGE_CHANNEL", "room-events"))
	if err := b.Start(ctx); err != nil {
		logger.Errorf("[Gateway] bridge start failed: %v", err)
		os.Exit(1)
	}
	defer b.Stop()

	gwID := "gw-" + ids.GenerateString()
	mgr := gateway.NewConnManager(gwID)
	fanout := gateway.NewFanout(mgr,
		tools.GetEnvInt("FANOUT_WORKERS", 8),
		tools.GetEnvInt("FANOUT_QUEUE", 1024))
	em := rooms.NewEmitter(b, viewers, typing)
	bindings := gateway.NewBindings(gateway.BindingsConfig{
		TypingIdle: time.Duration(tools.GetEnvInt("TYPING_IDLE_MS", 2000)) * time.Millisecond,
	}, mgr, viewers, typing, online, em)

	srv := gateway.NewServer(gateway.ServerConfig{
		Addr:   tools.GetEnv("GATEWAY_ADDR", ":8080"),
		WSPath: tools.GetEnv("GATEWAY_WS_PATH", "/ws"),
	}, mgr, fanout, bindings, insecureResolver{})
	srv.BindBridge(b)

	logger.Infof("[Gateway] %s starting", gwID)
	if err := srv.Run(ctx); err != nil {
		logger.Errorf("[Gateway] server exited: %v", err)
		os.Exit(1)
	}
}
