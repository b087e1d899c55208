package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"strings"
	"text/tabwriter"

	"github.com/joho/godotenv"
	"github.com/urfave/cli/v2"
	"github.com/wyfcoding/bspricer/api"
	"github.com/wyfcoding/bspricer/app"
	"github.com/wyfcoding/bspricer/config"
	"github.com/wyfcoding/bspricer/heatmap"
	"github.com/wyfcoding/bspricer/logging"
	"github.com/wyfcoding/bspricer/metrics"
	"github.com/wyfcoding/bspricer/pricing"
	"github.com/wyfcoding/bspricer/service"
	"github.com/wyfcoding/bspricer/xerrors"
)

const serviceName = "bspricer"

func newApp() *cli.App {
	return &cli.App{
		Name:    serviceName,
		Usage:   "Black-Scholes European option pricer with spot x volatility heatmaps",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "conf",
				Aliases: []string{"c"},
				Usage:   "path to TOML config file, empty for defaults + APP_* env",
				EnvVars: []string{"BSPRICER_CONFIG"},
			},
			&cli.StringFlag{
				Name:  "env-file",
				Value: ".env",
				Usage: "dotenv file loaded before reading config",
			},
		},
		Before: loadDotenv,
		Commands: []*cli.Command{
			serveCommand(),
			priceCommand(),
			heatmapCommand(),
		},
	}
}

// loadDotenv 文件不存在时忽略。
func loadDotenv(c *cli.Context) error {
	path := c.String("env-file")
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "run the HTTP/WebSocket pricing server",
		Action: func(c *cli.Context) error {
			a, err := app.NewBuilder(serviceName).WithConfigPath(c.String("conf")).Build()
			if err != nil {
				return err
			}
			return a.Run(c.Context)
		},
	}
}

func paramFlags() []cli.Flag {
	return []cli.Flag{
		&cli.Float64Flag{Name: "spot", Aliases: []string{"S"}, Usage: "underlying price"},
		&cli.Float64Flag{Name: "strike", Aliases: []string{"K"}, Usage: "strike price"},
		&cli.Float64Flag{Name: "maturity", Aliases: []string{"T"}, Usage: "time to maturity in years"},
		&cli.Float64Flag{Name: "volatility", Aliases: []string{"sigma"}, Usage: "annualized volatility"},
		&cli.Float64Flag{Name: "rate", Aliases: []string{"r"}, Usage: "risk-free rate"},
	}
}

// paramsFromFlags 未设置的参数取配置默认值。
func paramsFromFlags(c *cli.Context, base pricing.Params) pricing.Params {
	p := base
	set := func(name string, dst *float64) {
		if c.IsSet(name) {
			*dst = c.Float64(name)
		}
	}
	set("spot", &p.S)
	set("strike", &p.K)
	set("maturity", &p.T)
	set("volatility", &p.V)
	set("rate", &p.R)
	return p
}

func loadService(c *cli.Context) (*service.PricingService, error) {
	var cfg config.Config
	if err := config.Load(c.String("conf"), &cfg); err != nil {
		return nil, err
	}
	// 标准输出留给结果，日志写 stderr
	logging.InitLogger(logging.Config{
		Service: serviceName,
		Module:  "cli",
		Level:   "warn",
		Format:  "text",
		Output:  "stderr",
	})
	return service.New(&cfg, metrics.NewMetrics(serviceName))
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func priceCommand() *cli.Command {
	return &cli.Command{
		Name:  "price",
		Usage: "price one European call/put pair and print greeks",
		Flags: paramFlags(),
		Action: func(c *cli.Context) error {
			svc, err := loadService(c)
			if err != nil {
				return err
			}
			p := paramsFromFlags(c, svc.Defaults())
			res, clamp := svc.Price(c.Context, p)
			return writeJSON(c.App.Writer, api.NewPriceResponse(p, res, svc.Quote(res), clamp))
		},
	}
}

func heatmapCommand() *cli.Command {
	flags := append(paramFlags(),
		&cli.IntFlag{Name: "size", Aliases: []string{"n"}, Usage: "grid side length, 0 for the configured default"},
		&cli.Float64Flag{Name: "spot-min", Usage: "lowest spot on the horizontal axis"},
		&cli.Float64Flag{Name: "spot-max", Usage: "highest spot on the horizontal axis"},
		&cli.Float64Flag{Name: "vol-min", Usage: "lowest volatility on the vertical axis"},
		&cli.Float64Flag{Name: "vol-max", Usage: "highest volatility on the vertical axis"},
		&cli.StringFlag{Name: "side", Value: "call", Usage: "call or put, for table output"},
		&cli.StringFlag{Name: "format", Value: "table", Usage: "table or json"},
	)
	return &cli.Command{
		Name:  "heatmap",
		Usage: "sweep spot x volatility and print the option value grid",
		Flags: flags,
		Action: func(c *cli.Context) error {
			svc, err := loadService(c)
			if err != nil {
				return err
			}
			q := service.HeatmapQuery{
				Params: paramsFromFlags(c, svc.Defaults()),
				Size:   c.Int("size"),
			}
			if q.Spot, err = axisFromFlags(c, "spot-min", "spot-max"); err != nil {
				return err
			}
			if q.Vol, err = axisFromFlags(c, "vol-min", "vol-max"); err != nil {
				return err
			}

			format := strings.ToLower(c.String("format"))
			if format != "json" && format != "table" {
				return xerrors.InvalidArg(fmt.Sprintf("unknown format %q, want table or json", c.String("format")))
			}
			var put bool
			switch strings.ToLower(c.String("side")) {
			case "call":
			case "put":
				put = true
			default:
				return xerrors.InvalidArg(fmt.Sprintf("unknown side %q, want call or put", c.String("side")))
			}

			grid, err := svc.Heatmap(c.Context, q)
			if err != nil {
				return err
			}
			if format == "json" {
				return writeJSON(c.App.Writer, api.NewGridView(grid))
			}
			return writeTable(c.App.Writer, grid, put)
		},
	}
}

// axisFromFlags 两端都未设置时返回 nil，由边界规则推导。
func axisFromFlags(c *cli.Context, minName, maxName string) (*heatmap.AxisRange, error) {
	minSet, maxSet := c.IsSet(minName), c.IsSet(maxName)
	if !minSet && !maxSet {
		return nil, nil
	}
	if minSet != maxSet {
		return nil, xerrors.InvalidArg(fmt.Sprintf("--%s and --%s must be given together", minName, maxName))
	}
	return &heatmap.AxisRange{Min: c.Float64(minName), Max: c.Float64(maxName)}, nil
}

// writeTable 行为波动率 (自上而下递增)，列为标的价格。
func writeTable(w io.Writer, g *heatmap.Grid, put bool) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprint(tw, "vol\\spot\t")
	for _, s := range g.SpotAxis {
		fmt.Fprintf(tw, "%.2f\t", s)
	}
	fmt.Fprintln(tw)
	for i, v := range g.VolAxis {
		fmt.Fprintf(tw, "%.4f\t", v)
		for j := range g.SpotAxis {
			value := g.CallAt(i, j)
			if put {
				value = g.PutAt(i, j)
			}
			fmt.Fprintf(tw, "%.4f\t", value)
		}
		fmt.Fprintln(tw)
	}
	return tw.Flush()
}
