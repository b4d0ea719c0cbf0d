package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/urfave/cli"

	"fleetadmin/src/connectors"
	"fleetadmin/src/database"
	"fleetadmin/src/model"
	"fleetadmin/src/noise"
	"fleetadmin/src/repository"
	"fleetadmin/src/server"
	"fleetadmin/src/tracking"
)

var Version string

func main() {
	app := cli.NewApp()
	app.Name = "Fleetadmin CMD"
	app.Usage = "The fleetadmin command line interface"

	app.Commands = []cli.Command{
		serveCMD,
		trackCMD,
		statsCMD,
	}

	if err := app.Run(os.Args); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var (
	serveCMD = cli.Command{
		Name:        "serve",
		Usage:       "run the admin API server",
		Action:      serveAction,
		ArgsUsage:   "",
		Flags:       []cli.Flag{},
		Description: `Run the admin API server`,
	}
	trackCMD = cli.Command{
		Name:      "track",
		Usage:     "inject a test error into the tracking engine",
		Action:    trackAction,
		ArgsUsage: "",
		Flags: []cli.Flag{
			cli.StringFlag{Name: "message", Usage: "error message", Value: "ECONNREFUSED to payment gateway"},
			cli.StringFlag{Name: "route", Usage: "request route", Value: "/api/payment/charge"},
			cli.StringFlag{Name: "source", Usage: "error source", Value: "payment"},
			cli.StringFlag{Name: "type", Usage: "error type", Value: "connection_error"},
			cli.StringFlag{Name: "severity", Usage: "severity", Value: "critical"},
		},
		Description: `Track a synthetic error end to end, useful for verifying wiring`,
	}
	statsCMD = cli.Command{
		Name:        "stats",
		Usage:       "print aggregate error stats",
		Action:      statsAction,
		ArgsUsage:   "",
		Flags:       []cli.Flag{},
		Description: `Print aggregate tracked-error stats as JSON`,
	}
)

func serveAction(_ *cli.Context) error {
	logrus.Info("Starting server CMD")

	if err := database.InitMainDB(); err != nil {
		logrus.WithError(err).Fatal("Failed to connect to database")
	}

	server.StartServer(os.Getenv("SERVER_PORT"))
	return nil
}

func trackAction(c *cli.Context) error {
	logrus.Info("Starting track CMD")

	if err := database.InitMainDB(); err != nil {
		logrus.WithError(err).Fatal("Failed to connect to database")
	}

	svc := newTrackingService()

	result, err := svc.TrackError(context.Background(), tracking.ErrorReport{
		ErrorType:   model.ErrorType(c.String("type")),
		ErrorSource: model.ErrorSource(c.String("source")),
		Severity:    model.Severity(c.String("severity")),
		Message:     c.String("message"),
	}, tracking.RequestContext{
		Route:  c.String("route"),
		Method: "POST",
	})
	if err != nil {
		logrus.WithError(err).Error("Tracking failed")
		return err
	}

	return printJSON(result)
}

func statsAction(_ *cli.Context) error {
	logrus.Info("Starting stats CMD")

	if err := database.InitMainDB(); err != nil {
		logrus.WithError(err).Fatal("Failed to connect to database")
	}

	stats, err := newTrackingService().GetStats(context.Background())
	if err != nil {
		logrus.WithError(err).Error("Stats failed")
		return err
	}

	return printJSON(stats)
}

func newTrackingService() *tracking.Service {
	connectorCfg := connectors.GetConfig()

	return tracking.NewService(
		logrus.StandardLogger().WithField("cmd", "fleetadmin"),
		repository.NewTrackedErrorRepository(),
		repository.NewTicketRepository(),
		repository.NewUserRepository(),
		noise.NewFilter(nil),
		connectors.NewIssueTrackerClient(connectorCfg),
		connectors.NewMailerClient(connectorCfg),
		tracking.GetConfig(),
	)
}

func printJSON(v interface{}) error {
	raw, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}

	fmt.Println(string(raw))
	return nil
}
