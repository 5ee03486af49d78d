package main

import (
	"flag"
	"os"

	"github.com/tobsdb/pivot/internal/host"
	"github.com/tobsdb/pivot/pkg"
)

func main() {
	port := flag.Int("port", 7086, "listening port")
	log_level := flag.String("log", "error", "log level: none, error or debug")
	with_metrics := flag.Bool("metrics", false, "serve prometheus metrics on /metrics")

	flag.Parse()

	level, ok := pkg.ParseLogLevel(*log_level)
	if !ok {
		pkg.WarnLog("unknown log level", *log_level, "using", level)
	}
	pkg.SetLogLevel(level)

	users := []*host.User{}
	if name, password := os.Getenv("PIVOT_USER"), os.Getenv("PIVOT_PASS"); name != "" {
		admin, err := host.NewUser(name, password, host.UserRoleAdmin)
		if err != nil {
			pkg.FatalLog("invalid admin credentials;", err)
		}
		users = append(users, admin)
	}

	h := host.New(host.Options{Metrics: *with_metrics}, users...)
	h.Listen(*port)
}
