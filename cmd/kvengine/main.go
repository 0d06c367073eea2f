// Command kvengine runs a standalone kvengine instance with an
// in-memory DFS backend, exposing the debug stats endpoint over HTTP.
// It exists to give the engine a runnable entry point; the real
// deployment wires a durable dfs.DFS and a MetaSource backed by
// whatever change-set store owns shard metadata (out of scope, §1).
package main

import (
	"context"
	"flag"
	"net/http"

	"github.com/pingcap/log"
	"go.uber.org/zap"

	"github.com/unistore-io/kvengine/config"
	"github.com/unistore-io/kvengine/dfs"
	"github.com/unistore-io/kvengine/engine"
)

var configPath = flag.String("config", "", "path to a kvengine TOML config file")

// emptyMetaSource recovers no shards; a real deployment supplies a
// MetaSource backed by its own shard metadata store.
type emptyMetaSource struct{}

func (emptyMetaSource) ReadMetas(context.Context) (map[uint64]*engine.ShardMeta, error) {
	return map[uint64]*engine.ShardMeta{}, nil
}

func main() {
	flag.Parse()

	cfg := config.DefaultConf
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			log.Fatal("failed to load config", zap.Error(err))
		}
		cfg = *loaded
	}

	opt := engine.Options{EngineOptions: cfg.Engine}
	en, err := engine.OpenEngine(context.Background(), opt, dfs.NewInMem(), emptyMetaSource{})
	if err != nil {
		log.Fatal("failed to open engine", zap.Error(err))
	}
	defer en.Close()

	http.HandleFunc("/debug/stats", en.DebugHandler())
	log.S().Infof("kvengine listening on %s", cfg.Server.StatusAddr)
	log.Fatal("http server exited", zap.Error(http.ListenAndServe(cfg.Server.StatusAddr, nil)))
}
