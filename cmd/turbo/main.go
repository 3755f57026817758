package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/saiset-co/sai-turbo/discovery"
	"github.com/saiset-co/sai-turbo/logger"
	"github.com/saiset-co/sai-turbo/server"
	"github.com/saiset-co/sai-turbo/service"
)

var version = "dev"

func main() {
	app := &cli.App{
		Name:    "turbo",
		Usage:   "Serve routes declared in YAML manifests",
		Version: version,
		Commands: []*cli.Command{
			{
				Name:  "serve",
				Usage: "Start the HTTP server",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "config",
						Aliases: []string{"c"},
						Value:   "config.yml",
						Usage:   "path to the service config",
						EnvVars: []string{"TURBO_CONFIG"},
					},
				},
				Action: serve,
			},
			{
				Name:  "routes",
				Usage: "List routes declared in a manifest directory",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "dir",
						Aliases: []string{"d"},
						Value:   "routes",
						Usage:   "manifest directory",
					},
				},
				Action: listRoutes,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func serve(c *cli.Context) error {
	ctx, cancel := context.WithCancel(c.Context)
	defer cancel()

	svc, err := service.NewService(ctx, c.String("config"))
	if err != nil {
		return err
	}

	for name, handler := range builtinHandlers() {
		if err = svc.Handle(name, handler); err != nil {
			return err
		}
	}

	return svc.Run()
}

func listRoutes(c *cli.Context) error {
	scanner := discovery.NewManifestScanner(logger.NewNop(), discovery.NewRegistry(), nil)

	sources, err := scanner.Scan(c.String("dir"))
	if err != nil {
		return err
	}

	var rows [][]string
	for _, source := range sources {
		for _, route := range source.Manifest.Routes {
			middlewares := "-"
			if len(route.Middlewares) > 0 {
				middlewares = strings.Join(route.Middlewares, ",")
			}
			rows = append(rows, []string{route.Method, route.Path, route.Handler, middlewares, source.File})
		}
	}

	return renderTable([]string{"METHOD", "PATH", "HANDLER", "MIDDLEWARES", "FILE"}, rows, c.App.Writer)
}

// builtinHandlers are available to manifests without writing Go code.
func builtinHandlers() map[string]server.HandlerFunc {
	return map[string]server.HandlerFunc{
		"echo": func(req *server.Request, res *server.Response) error {
			return res.JSON(map[string]interface{}{
				"method": req.Method(),
				"path":   req.Path(),
				"params": req.Params(),
				"query":  req.Query(),
				"data":   req.Data(),
			})
		},
		"ping": func(req *server.Request, res *server.Response) error {
			return res.JSON("pong")
		},
	}
}
