// Command classify runs the emotion model over local image files.
//
//	classify [flags] image...
//	classify --validate
//	classify --schema
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/charmbracelet/log"
	"github.com/invopop/jsonschema"
	_ "github.com/joho/godotenv/autoload"
	"github.com/spf13/pflag"

	"github.com/Brownie44l1/emotion-api/internal/config"
	"github.com/Brownie44l1/emotion-api/internal/model"
	"github.com/Brownie44l1/emotion-api/internal/preprocess"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	logger := log.NewWithOptions(stderr, log.Options{Prefix: "classify"})

	cfg, err := config.Load()
	if err != nil {
		logger.Error("load config", "err", err)
		return 1
	}

	flags := pflag.NewFlagSet("classify", pflag.ContinueOnError)
	flags.SetOutput(stderr)
	weights := flags.String("weights", cfg.Model.WeightsPath, "weights file")
	backend := flags.String("backend", cfg.Model.Backend, "model backend: native or onnx")
	topologyPath := flags.String("topology", cfg.Model.TopologyPath, "topology YAML (default: builtin "+model.DefaultTopologyName+")")
	onnxLibrary := flags.String("onnx-library", cfg.Model.ONNXLibrary, "path to the onnxruntime shared library")
	interpName := flags.String("interp", cfg.Image.Interpolation, "resize interpolation: nearest, bilinear, bicubic, lanczos3")
	validate := flags.Bool("validate", false, "load the weights, report the parameter count and exit; tensors are named <layer>.kernel, <layer>.bias, <layer>.gamma, <layer>.beta, <layer>.moving_mean, <layer>.moving_variance (see go doc ./internal/model)")
	schema := flags.Bool("schema", false, "print the topology JSON Schema and exit")
	if err := flags.Parse(args); err != nil {
		return 2
	}
	if flags.Changed("backend") && !flags.Changed("weights") && cfg.Model.WeightsPath == config.DefaultWeightsPath(cfg.Model.Backend) {
		*weights = config.DefaultWeightsPath(*backend)
	}

	if *schema {
		return printSchema(stdout, logger)
	}

	topology, err := model.LoadTopology(*topologyPath)
	if err != nil {
		logger.Error("load topology", "err", err)
		return 1
	}

	predictor, err := model.Open(*backend, *weights, topology, *onnxLibrary)
	if err != nil {
		logger.Error("load model", "backend", *backend, "weights", *weights, "err", err)
		return 1
	}
	classifier := model.NewClassifier(predictor, topology.Classes)
	defer classifier.Close()

	if *validate {
		params, err := topology.ParamCount()
		if err != nil {
			logger.Error("count params", "err", err)
			return 1
		}
		ignored := 0
		if n, ok := predictor.(*model.Network); ok {
			ignored = len(n.Ignored())
		}
		logger.Info("weights match topology", "topology", topology.ID(), "params", params, "ignored", ignored, "weights", *weights)
		return 0
	}

	if flags.NArg() == 0 {
		logger.Error("no images given")
		flags.PrintDefaults()
		return 2
	}

	interp, err := preprocess.ParseInterpolation(*interpName)
	if err != nil {
		logger.Error("image config", "err", err)
		return 1
	}
	preprocessor := preprocess.New(topology.Input.Width, topology.Input.Height, interp,
		preprocess.WithMaxPixels(cfg.Image.MaxPixels))

	status := 0
	for _, path := range flags.Args() {
		prediction, err := classifyFile(classifier, preprocessor, path)
		if err != nil {
			logger.Error("classify", "file", path, "err", err)
			status = 1
			continue
		}
		fmt.Fprintf(stdout, "%s\t%s\t%.4f\n", path, prediction.Emotion, prediction.Confidence)
	}
	return status
}

func classifyFile(c *model.Classifier, p *preprocess.Preprocessor, path string) (*model.Prediction, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	tensor, err := p.Preprocess(data, http.DetectContentType(data))
	if err != nil {
		return nil, err
	}
	return c.Classify(tensor)
}

func printSchema(w io.Writer, logger *log.Logger) int {
	s := jsonschema.Reflect(&model.Topology{})
	out, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		logger.Error("marshal schema", "err", err)
		return 1
	}
	fmt.Fprintln(w, string(out))
	return 0
}
