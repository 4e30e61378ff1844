package main // import "github.com/tcolgate/catcam"

import (
	"fmt"
	"os"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
	yaml "gopkg.in/yaml.v2"
)

const (
	sourceV4L2    = "v4l2"
	sourceRpicam  = "rpicam"
	sourceURL     = "url"
	sourcePattern = "pattern"

	defaultQuality = 85
)

// Config holds the settings of the camera server. Values come from the
// defaults, then an optional YAML file, then command line flags.
type Config struct {
	Listen string `yaml:"listen"`

	Source    string `yaml:"source"`
	Device    string `yaml:"device"`
	Format    string `yaml:"format"`
	Size      string `yaml:"size"`
	URL       string `yaml:"url"`
	Width     int    `yaml:"width"`
	Height    int    `yaml:"height"`
	Framerate int    `yaml:"framerate"`
	Rotation  int    `yaml:"rotation"`
	HFlip     bool   `yaml:"hflip"`
	VFlip     bool   `yaml:"vflip"`
	Quality   int    `yaml:"quality"`
	FPS       bool   `yaml:"fps"`

	Template        string `yaml:"template"`
	SummaryTemplate string `yaml:"summary_template"`

	MaxClients   int           `yaml:"max_clients"`
	WriteTimeout time.Duration `yaml:"write_timeout"`

	LogLevel string `yaml:"log_level"`
}

func defaultConfig() Config {
	return Config{
		Listen:          ":8081",
		Source:          sourceV4L2,
		Device:          "/dev/video0",
		Width:           1536,
		Height:          1152,
		Framerate:       24,
		Quality:         defaultQuality,
		Template:        "template/camera_page_template.html",
		SummaryTemplate: "template/summary_template.html",
		WriteTimeout:    10 * time.Second,
		LogLevel:        "info",
	}
}

// AddFlags binds the configuration to flags in fs, using the current values
// as defaults.
func (c *Config) AddFlags(fs *pflag.FlagSet) {
	fs.StringVarP(&c.Listen, "listen", "l", c.Listen, "addr to listen on")
	fs.StringVar(&c.Source, "source", c.Source, "camera source: v4l2, rpicam, url or pattern")
	fs.StringVarP(&c.Device, "device", "d", c.Device, "video device to use")
	fs.StringVarP(&c.Format, "format", "f", c.Format, "video format to use, default first supported")
	fs.StringVarP(&c.Size, "size", "s", c.Size, "frame size to use, default largest one")
	fs.StringVar(&c.URL, "url", c.URL, "upstream MJPEG stream for the url source")
	fs.IntVar(&c.Width, "width", c.Width, "frame width for the rpicam and pattern sources")
	fs.IntVar(&c.Height, "height", c.Height, "frame height for the rpicam and pattern sources")
	fs.IntVar(&c.Framerate, "framerate", c.Framerate, "frames per second for the rpicam and pattern sources")
	fs.IntVar(&c.Rotation, "rotation", c.Rotation, "clockwise rotation in degrees: 0, 90, 180 or 270")
	fs.BoolVar(&c.HFlip, "hflip", c.HFlip, "flip frames horizontally")
	fs.BoolVar(&c.VFlip, "vflip", c.VFlip, "flip frames vertically")
	fs.IntVar(&c.Quality, "quality", c.Quality, "JPEG quality of re-encoded frames")
	fs.BoolVarP(&c.FPS, "fps", "p", c.FPS, "print fps info")
	fs.StringVar(&c.Template, "template", c.Template, "index page template")
	fs.StringVar(&c.SummaryTemplate, "summary-template", c.SummaryTemplate, "summary page template")
	fs.IntVar(&c.MaxClients, "max-clients", c.MaxClients, "maximum concurrent streaming clients, 0 for no limit")
	fs.DurationVar(&c.WriteTimeout, "write-timeout", c.WriteTimeout, "maximum time to write one frame to a client, 0 for none")
	fs.StringVar(&c.LogLevel, "log-level", c.LogLevel, "log level (debug, info, warn, error)")
}

// Load reads the YAML file at path into c. Flags of fs that were set on the
// command line keep their value.
func (c *Config) Load(path string, fs *pflag.FlagSet) error {
	bs, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrap(err, "reading config")
	}

	set := map[string]string{}
	if fs != nil {
		fs.Visit(func(f *pflag.Flag) {
			set[f.Name] = f.Value.String()
		})
	}

	if err := yaml.UnmarshalStrict(bs, c); err != nil {
		return errors.Wrapf(err, "parsing config %s", path)
	}

	for name, v := range set {
		if err := fs.Set(name, v); err != nil {
			return err
		}
	}
	return nil
}

// Validate checks the configuration for values the server cannot use.
func (c *Config) Validate() error {
	switch c.Source {
	case sourceV4L2, sourceRpicam, sourcePattern:
	case sourceURL:
		if c.URL == "" {
			return errors.New("url source needs an upstream url")
		}
	default:
		return fmt.Errorf("unknown camera source %q", c.Source)
	}

	switch c.Rotation {
	case 0, 90, 180, 270:
	default:
		return fmt.Errorf("rotation must be 0, 90, 180 or 270, not %d", c.Rotation)
	}

	if c.Quality < 1 || c.Quality > 100 {
		return fmt.Errorf("quality must be between 1 and 100, not %d", c.Quality)
	}
	if c.Width <= 0 || c.Height <= 0 {
		return fmt.Errorf("invalid frame size %dx%d", c.Width, c.Height)
	}
	if c.Framerate <= 0 {
		return fmt.Errorf("invalid framerate %d", c.Framerate)
	}
	if c.MaxClients < 0 {
		return fmt.Errorf("invalid max clients %d", c.MaxClients)
	}
	if c.WriteTimeout < 0 {
		return fmt.Errorf("invalid write timeout %v", c.WriteTimeout)
	}
	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		return err
	}
	return nil
}
