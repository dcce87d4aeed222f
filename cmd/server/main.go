package main

import (
	"fmt"
	"net/http"

	"github.com/SplitFi/go-oasis/env"
	"github.com/SplitFi/go-oasis/server"
	"github.com/SplitFi/go-oasis/service/logger"
	sentryutil "github.com/SplitFi/go-oasis/service/sentry"
)

func main() {
	defer sentryutil.RecoverAndRaise(nil)

	server.Init()

	addr := fmt.Sprintf(":%d", env.GetInt("PORT"))
	logger.For(nil).Infof("Listening on %s", addr)
	if err := http.ListenAndServe(addr, nil); err != nil {
		logger.For(nil).WithError(err).Fatal("server stopped")
	}
}
