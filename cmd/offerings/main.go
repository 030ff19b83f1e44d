package main

import (
	"context"
	"database/sql"
	"net/http"
	"os"
	"strings"
	"time"

	"mlsplus/lib/configutil"
	"mlsplus/lib/scrapers/enroll"
	"mlsplus/lib/scrapers/enroll/clearance"
	"mlsplus/lib/serviceutil"
	"mlsplus/lib/sqliteutil"
	"mlsplus/lib/telemetry"
	"mlsplus/services/offerings"
	offeringsdb "mlsplus/services/offerings/db"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

type EnrollConfig struct {
	// e.g. https://enroll.dlsu.edu.ph/dlsu
	BaseUrl  string `json:"base_url"`
	IdNumber string `json:"id_number"`
	// argv of the out-of-process clearance solver
	Solver []string `json:"solver"`
	// optional credential to start out with, lifted from a browser
	SeedCookie    string `json:"seed_cookie"`
	SeedUserAgent string `json:"seed_user_agent"`
}

type Config struct {
	Port     int                `json:"port"`
	Database sqliteutil.Options `json:"database"`
	Enroll   EnrollConfig       `json:"enroll"`
}

var verbose bool

var rootCmd = &cobra.Command{
	Use:   "offerings",
	Short: "Course offerings scraper and lookup API.",
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the course offerings lookup API.",
	Run: func(cmd *cobra.Command, args []string) {
		ctx := serviceutil.SignalContext()
		initTelemetry(ctx, "offerings")

		cfg := mustReadConfig()
		service, database := initService(cfg)
		defer database.Close()

		port := cfg.Port
		if port == 0 {
			port = 3000
		}

		mux := http.NewServeMux()
		service.RegisterRoutes(mux)
		go serviceutil.StartHttpServer(port, mux)

		<-ctx.Done()
	},
}

var fetchCmd = &cobra.Command{
	Use:   "fetch <course code>",
	Short: "Scrape one course and print its sections.",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := serviceutil.SignalContext()
		initTelemetry(ctx, "offerings-cli")

		service, database := initService(mustReadConfig())
		defer database.Close()

		ctx, cancel := context.WithTimeout(ctx, time.Minute*3)
		defer cancel()

		result, err := service.GetOfferings(ctx, args[0])
		if err != nil {
			serviceutil.Fatal("fetch course offerings", err)
		}

		t := table.NewWriter()
		t.SetOutputMirror(os.Stdout)
		t.AppendHeader(table.Row{"Class Nbr", "Section", "Days", "Times", "Rooms", "Cap", "Enrolled", "Professor", "Open"})
		for _, s := range result.Sections {
			t.AppendRow(table.Row{
				s.ClassNbr,
				s.Section,
				strings.Join(s.Days, " "),
				strings.Join(s.Times, " "),
				strings.Join(s.Rooms, " "),
				s.EnrlCap,
				s.Enrolled,
				s.Professor,
				s.IsOpen,
			})
		}
		t.Render()
	},
}

func initTelemetry(ctx context.Context, serviceName string) {
	telemetry.InitSlog(verbose)

	err := telemetry.SetupFromEnv(ctx, serviceName)
	if err != nil && !os.IsNotExist(err) {
		serviceutil.Fatal("setup telemetry", err)
	}
	go func() {
		<-ctx.Done()
		telemetry.Shutdown(context.Background())
	}()
	telemetry.InstrumentPerfStats(ctx)
}

func mustReadConfig() Config {
	cfg, err := configutil.ReadConfig[Config]("config.json5")
	if err != nil {
		serviceutil.Fatal("read config", err)
	}
	return cfg
}

func initService(cfg Config) (offerings.Service, *sql.DB) {
	database, err := sqliteutil.OpenDB(offeringsdb.Schema, cfg.Database)
	if err != nil {
		serviceutil.Fatal("open database", err)
	}

	client, err := enroll.NewClient(enroll.ClientOptions{
		BaseUrl:  cfg.Enroll.BaseUrl,
		IdNumber: cfg.Enroll.IdNumber,
	})
	if err != nil {
		serviceutil.Fatal("init enroll client", err)
	}

	session := enroll.NewSession(
		client,
		clearance.CommandSolver{Argv: cfg.Enroll.Solver},
		enroll.SessionOptions{
			TargetUrl: cfg.Enroll.BaseUrl + "/view_course_offerings",
			Seed: clearance.Credentials{
				Cookie:    cfg.Enroll.SeedCookie,
				UserAgent: cfg.Enroll.SeedUserAgent,
			},
		},
	)

	return offerings.NewService(database, session), database
}

func main() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging/instrumentation.")
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(fetchCmd)

	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}
