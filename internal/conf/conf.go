// Package conf contains the struct that holds the job configuration.
package conf

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/bluenviron/mediacompose/internal/composer"
	"github.com/bluenviron/mediacompose/internal/conf/decrypt"
	"github.com/bluenviron/mediacompose/internal/conf/env"
	"github.com/bluenviron/mediacompose/internal/conf/yamlwrapper"
	"github.com/bluenviron/mediacompose/internal/logger"
)

const (
	envPrefix = "MCP"
	envKey    = "MCP_CONFKEY"
)

func firstThatExists(paths []string) string {
	for _, pa := range paths {
		_, err := os.Stat(pa)
		if err == nil {
			return pa
		}
	}
	return ""
}

// Conf is a job configuration.
type Conf struct {
	// General
	LogLevel        LogLevel        `json:"logLevel"`
	LogDestinations LogDestinations `json:"logDestinations"`
	LogFile         string          `json:"logFile"`
	Watch           bool            `json:"watch"`
	RunOnComplete   string          `json:"runOnComplete"`
	RunOnFailure    string          `json:"runOnFailure"`
	HookTimeout     Duration        `json:"hookTimeout"`

	// API
	API        bool   `json:"api"`
	APIAddress string `json:"apiAddress"`

	// pprof
	PPROF        bool   `json:"pprof"`
	PPROFAddress string `json:"pprofAddress"`

	// Output
	Output          string       `json:"output"`
	OutputFormat    OutputFormat `json:"outputFormat"`
	WriteBufferSize StringSize   `json:"writeBufferSize"`

	// Inputs
	Clips     []Clip   `json:"clips"`
	Audio     string   `json:"audio"`
	TrimStart Duration `json:"trimStart"`
	TrimEnd   Duration `json:"trimEnd"`
	Mute      bool     `json:"mute"`

	// Video
	Width          int             `json:"width"`
	Height         int             `json:"height"`
	VideoBitrate   int             `json:"videoBitrate"`
	FrameRate      int             `json:"frameRate"`
	Rotation       Rotation        `json:"rotation"`
	FillMode       FillMode        `json:"fillMode"`
	FillModeCustom *FillModeCustom `json:"fillModeCustom"`
	FlipVertical   bool            `json:"flipVertical"`
	FlipHorizontal bool            `json:"flipHorizontal"`
	TimeScale      TimeScale       `json:"timeScale"`
	Overlay        *Overlay        `json:"overlay"`
}

func (conf *Conf) setDefaults() {
	// General
	conf.LogLevel = LogLevel(logger.Info)
	conf.LogDestinations = LogDestinations{logger.DestinationStdout}
	conf.LogFile = "mediacompose.log"
	conf.HookTimeout = Duration(5 * time.Minute)

	// API
	conf.APIAddress = "127.0.0.1:9997"

	// pprof
	conf.PPROFAddress = "127.0.0.1:9999"

	// Output
	conf.Output = "output.mp4"
	conf.OutputFormat = OutputFormatMP4
	conf.WriteBufferSize = 1024 * 1024

	// Inputs
	conf.Clips = []Clip{}

	// Video
	conf.TimeScale = TimeScale{Num: 1, Den: 1}
}

// Load loads a Conf.
func Load(fpath string, defaultConfPaths []string) (*Conf, string, error) {
	conf := &Conf{}

	fpath, err := conf.loadFromFile(fpath, defaultConfPaths)
	if err != nil {
		return nil, "", err
	}

	err = env.Load(envPrefix, conf)
	if err != nil {
		return nil, "", err
	}

	err = conf.Validate()
	if err != nil {
		return nil, "", err
	}

	return conf, fpath, nil
}

func (conf *Conf) loadFromFile(fpath string, defaultConfPaths []string) (string, error) {
	if fpath == "" {
		fpath = firstThatExists(defaultConfPaths)

		// when the job file is not explicitly set,
		// it is optional.
		if fpath == "" {
			conf.setDefaults()
			return "", nil
		}
	}

	byts, err := os.ReadFile(fpath)
	if err != nil {
		return "", err
	}

	if key, ok := os.LookupEnv(envKey); ok {
		byts, err = decrypt.Decrypt(key, byts)
		if err != nil {
			return "", err
		}
	}

	err = yamlwrapper.Unmarshal(byts, conf)
	if err != nil {
		return "", err
	}

	return fpath, nil
}

// Clone clones the configuration.
func (conf Conf) Clone() *Conf {
	enc, err := json.Marshal(conf)
	if err != nil {
		panic(err)
	}

	var dest Conf
	err = json.Unmarshal(enc, &dest)
	if err != nil {
		panic(err)
	}

	return &dest
}

// Validate checks the configuration for errors.
func (conf *Conf) Validate() error {
	if conf.Output == "" {
		return fmt.Errorf("'output' is empty")
	}

	if conf.WriteBufferSize == 0 {
		return fmt.Errorf("'writeBufferSize' must be greater than zero")
	}

	if conf.HookTimeout < 0 {
		return fmt.Errorf("'hookTimeout' must not be negative")
	}

	if len(conf.Clips) == 0 {
		return fmt.Errorf("at least one clip is required")
	}

	for i, clip := range conf.Clips {
		err := clip.validate(i)
		if err != nil {
			return err
		}
	}

	if conf.TrimStart < 0 || conf.TrimEnd < 0 {
		return fmt.Errorf("audio trim must not be negative")
	}

	if conf.TrimEnd != 0 && conf.TrimEnd <= conf.TrimStart {
		return fmt.Errorf("'trimEnd' must be greater than 'trimStart'")
	}

	if (conf.Width == 0) != (conf.Height == 0) {
		return fmt.Errorf("'width' and 'height' must be set together")
	}

	if conf.Width < 0 || conf.Height < 0 || conf.VideoBitrate < 0 || conf.FrameRate < 0 {
		return fmt.Errorf("video parameters must not be negative")
	}

	if conf.Width%2 != 0 || conf.Height%2 != 0 {
		return fmt.Errorf("'width' and 'height' must be even")
	}

	if composer.FillMode(conf.FillMode) == composer.FillModeCustom && conf.FillModeCustom == nil {
		return fmt.Errorf("'fillModeCustom' is required when 'fillMode' is 'custom'")
	}

	if conf.FillModeCustom != nil && conf.FillModeCustom.Scale < 0 {
		return fmt.Errorf("'fillModeCustom.scale' must not be negative")
	}

	err := composer.TimeScale(conf.TimeScale).Validate()
	if err != nil {
		return err
	}

	if conf.Overlay != nil {
		if conf.Overlay.FontScale <= 0 {
			conf.Overlay.FontScale = 1
		}
		if conf.Overlay.Color == (Color{}) {
			conf.Overlay.Color = Color{R: 255, G: 255, B: 255, A: 255}
		}
	}

	return nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (conf *Conf) UnmarshalJSON(b []byte) error {
	conf.setDefaults()

	type alias Conf
	d := json.NewDecoder(bytes.NewReader(b))
	d.DisallowUnknownFields()
	return d.Decode((*alias)(conf))
}

func (conf *Conf) audioTrimEndUs() int64 {
	if conf.TrimEnd == 0 {
		return -1
	}
	return conf.TrimEnd.Microseconds()
}

// Composer fills a Composer with the job parameters.
// Capabilities and the listener are left to the caller.
func (conf *Conf) Composer() *composer.Composer {
	c := &composer.Composer{
		Clips:            make([]*composer.Clip, len(conf.Clips)),
		AudioPath:        conf.Audio,
		AudioTrimStartUs: conf.TrimStart.Microseconds(),
		AudioTrimEndUs:   conf.audioTrimEndUs(),
		Mute:             conf.Mute,
		OutputSize:       composer.Size{Width: conf.Width, Height: conf.Height},
		Bitrate:          conf.VideoBitrate,
		FrameRate:        conf.FrameRate,
		Rotation:         composer.Rotation(conf.Rotation),
		FillMode:         composer.FillMode(conf.FillMode),
		FlipVertical:     conf.FlipVertical,
		FlipHorizontal:   conf.FlipHorizontal,
		TimeScale:        composer.TimeScale(conf.TimeScale),
	}

	for i, clip := range conf.Clips {
		c.Clips[i] = clip.toComposer()
	}

	if conf.FillModeCustom != nil {
		c.FillModeCustom = conf.FillModeCustom.toComposer()
	}

	return c
}
