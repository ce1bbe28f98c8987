// Command neuroscreen runs the diagnostic pipeline from the terminal.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"neuroscreen-go/internal/config"
	"neuroscreen-go/internal/imageio"
	"neuroscreen-go/internal/logging"
	"neuroscreen-go/internal/models"
	"neuroscreen-go/internal/report"
	"neuroscreen-go/internal/service"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"
	"gopkg.in/yaml.v3"
)

// caseFile is the on-disk shape of an assessment input
type caseFile struct {
	CaseID   string                     `yaml:"case_id"`
	Clinical models.ClinicalRecord      `yaml:"clinical"`
	Imaging  *models.ImagingVolumetrics `yaml:"imaging"`
}

func main() {
	app := &cli.App{
		Name:  "neuroscreen",
		Usage: "synthetic multi-modal screening pipeline",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "calibration", Usage: "YAML calibration file", EnvVars: []string{"CALIBRATION_FILE"}},
			&cli.StringFlag{Name: "log-level", Value: "warn", EnvVars: []string{"LOG_LEVEL"}},
			&cli.Int64Flag{Name: "seed", Usage: "random seed (default: time based)"},
		},
		Before: func(c *cli.Context) error {
			logging.Init(c.String("log-level"), true)
			return nil
		},
		Commands: []*cli.Command{
			predictCommand(),
			overlayCommand(),
			assessCommand(),
			analyzeCommand(),
		},
	}
	if err := app.Run(os.Args); err != nil {
		log.Error().Err(err).Msg("neuroscreen failed")
		os.Exit(1)
	}
}

func loadPipeline(c *cli.Context) (*service.Pipeline, error) {
	cal, err := config.Load(c.String("calibration"))
	if err != nil {
		return nil, err
	}
	return service.NewPipeline(cal), nil
}

func seed(c *cli.Context) int64 {
	if c.IsSet("seed") {
		return c.Int64("seed")
	}
	return int64(uuid.New().ID())
}

func predictCommand() *cli.Command {
	return &cli.Command{
		Name:  "predict",
		Usage: "synthesize one modality prediction",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "modality", Value: string(models.ModalityImaging)},
			&cli.StringFlag{Name: "filename", Usage: "filename hint, e.g. verymild_042.png"},
			&cli.Float64Flag{Name: "risk", Usage: "risk score hint in [0,100]", Value: -1},
			&cli.Float64Flag{Name: "accuracy", Usage: "target accuracy override", Value: -1},
		},
		Action: func(c *cli.Context) error {
			p, err := loadPipeline(c)
			if err != nil {
				return err
			}
			m := models.Modality(c.String("modality"))
			hint := models.InputDescriptor{Filename: c.String("filename")}
			if r := c.Float64("risk"); r >= 0 {
				hint.RiskScore = &r
			}
			acc := p.Calibration().Accuracy(m)
			if a := c.Float64("accuracy"); a >= 0 {
				acc = a
			}
			pred, err := p.Probability.Synthesize(m, hint, acc, service.NewRandomSource(seed(c)))
			if err != nil {
				return err
			}
			return printJSON(pred)
		},
	}
}

func overlayCommand() *cli.Command {
	return &cli.Command{
		Name:      "overlay",
		Usage:     "render an attention overlay onto an image",
		ArgsUsage: "<image>",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "class", Usage: "class to render; default is predicted from the filename"},
			&cli.StringFlag{Name: "out", Usage: "output PNG path", Value: "overlay.png"},
			&cli.Float64Flag{Name: "alpha", Value: -1},
			&cli.Float64Flag{Name: "threshold", Value: -1},
		},
		Action: func(c *cli.Context) error {
			path := c.Args().First()
			if path == "" {
				return cli.Exit("overlay needs an image path", 2)
			}
			p, err := loadPipeline(c)
			if err != nil {
				return err
			}
			data, err := os.ReadFile(path)
			if err != nil {
				return err
			}
			img, err := imageio.Decode(data, imageio.Limits{})
			if err != nil {
				return err
			}

			s := seed(c)
			var class models.ClassLabel
			if name := c.String("class"); name != "" {
				if class, err = models.ParseClassLabel(name); err != nil {
					return err
				}
			} else {
				hint := models.InputDescriptor{Filename: filepath.Base(path), SizeBytes: img.SizeBytes, MIMEType: img.MIMEType}
				rng := service.NewRandomSource(service.DeriveSeed(s, models.ModalityImaging))
				pred, err := p.Probability.Synthesize(models.ModalityImaging, hint, p.Calibration().Accuracy(models.ModalityImaging), rng)
				if err != nil {
					return err
				}
				class = pred.PredictedClass
			}

			b := img.Image.Bounds()
			grid, err := p.Attention.Generate(class, b.Dx(), b.Dy(), service.NewRandomSource(service.DeriveSeed(s, "attention")))
			if err != nil {
				return err
			}
			opts := service.DefaultOverlayOptions(p.Calibration().Overlay)
			if a := c.Float64("alpha"); a >= 0 {
				opts.Alpha = a
			}
			if t := c.Float64("threshold"); t >= 0 {
				opts.Threshold = t
			}
			out, err := p.Compositor.Composite(img.Image, grid, opts)
			if err != nil {
				return err
			}
			png, err := imageio.EncodePNG(out)
			if err != nil {
				return err
			}
			if err := os.WriteFile(c.String("out"), png, 0644); err != nil {
				return err
			}
			fmt.Printf("%s overlay written to %s\n", class, c.String("out"))
			return nil
		},
	}
}

func assessCommand() *cli.Command {
	return &cli.Command{
		Name:      "assess",
		Usage:     "run the two-stage fusion over a YAML or JSON case file",
		ArgsUsage: "<case.yaml>",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "json", Usage: "print JSON instead of text"},
		},
		Action: func(c *cli.Context) error {
			cf, err := readCase(c.Args().First())
			if err != nil {
				return err
			}
			p, err := loadPipeline(c)
			if err != nil {
				return err
			}
			res, err := p.Ensemble.Assess(cf.Clinical, cf.Imaging)
			if err != nil {
				return err
			}
			if c.Bool("json") {
				return printJSON(res)
			}
			fmt.Print(report.Ensemble(res))
			return nil
		},
	}
}

func analyzeCommand() *cli.Command {
	return &cli.Command{
		Name:      "analyze",
		Usage:     "run the full pipeline over a case file and an optional scan",
		ArgsUsage: "<case.yaml>",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "image", Usage: "scan to overlay"},
			&cli.StringFlag{Name: "out", Usage: "write the overlay PNG here"},
			&cli.IntFlag{Name: "top", Value: 5, Usage: "attributions to show"},
		},
		Action: func(c *cli.Context) error {
			cf, err := readCase(c.Args().First())
			if err != nil {
				return err
			}
			p, err := loadPipeline(c)
			if err != nil {
				return err
			}
			req := service.AnalyzeRequest{Record: &cf.Clinical, Imaging: cf.Imaging}
			if path := c.String("image"); path != "" {
				data, err := os.ReadFile(path)
				if err != nil {
					return err
				}
				img, err := imageio.Decode(data, imageio.Limits{})
				if err != nil {
					return err
				}
				req.Image = img.Image
				req.ImageInfo = models.InputDescriptor{Filename: filepath.Base(path), SizeBytes: img.SizeBytes, MIMEType: img.MIMEType}
			}
			if cf.CaseID == "" {
				cf.CaseID = uuid.NewString()
			}

			rep, err := p.Analyze(context.Background(), models.NewCaseContext(cf.CaseID, seed(c)), req)
			if err != nil {
				return err
			}
			fmt.Print(report.Case(rep, c.Int("top")))
			if out := c.String("out"); out != "" && rep.Overlay != nil {
				png, err := imageio.EncodePNG(rep.Overlay)
				if err != nil {
					return err
				}
				return os.WriteFile(out, png, 0644)
			}
			return nil
		},
	}
}

func readCase(path string) (*caseFile, error) {
	if path == "" {
		return nil, cli.Exit("a case file is required", 2)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cf caseFile
	// YAML is a superset of JSON, so one decoder covers both
	if err := yaml.Unmarshal(data, &cf); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return &cf, nil
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
