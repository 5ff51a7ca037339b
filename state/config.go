package state

import (
	"path/filepath"
	"time"

	"github.com/hashicorp/hcl"
	"github.com/juju/errors"
	"github.com/lestrrat-go/strftime"
	engine_config "github.com/temoto/mtq-tester/engine/config"
	"github.com/temoto/mtq-tester/export"
	"github.com/temoto/mtq-tester/hardware/uart"
	"github.com/temoto/mtq-tester/helpers"
	"github.com/temoto/mtq-tester/log2"
	tele_config "github.com/temoto/mtq-tester/tele/config"
	"github.com/temoto/mtq-tester/telemetry"
)

type Config struct {
	// includeSeen contains absolute paths to prevent include loops
	includeSeen map[string]struct{}
	// only used for Unmarshal, do not access
	XXX_Include []ConfigSource `hcl:"include"`

	Serial struct {
		Device          string `hcl:"device"`
		Baud            int    `hcl:"baud"`
		Driver          string `hcl:"driver"` // serial|file
		ReadTimeoutMs   int    `hcl:"read_timeout_ms"`
		QueueSize       int    `hcl:"queue_size"`
		StreamOnConnect bool   `hcl:"stream_on_connect"`
	} `hcl:"serial"`
	Buffer struct {
		Capacity   int    `hcl:"capacity"`
		TimeSource string `hcl:"time_source"` // local|device
		RawLogMax  int    `hcl:"raw_log_max"`
	} `hcl:"buffer"`
	Log struct {
		Debug      bool   `hcl:"debug"`
		TimeFormat string `hcl:"time_format"`
	} `hcl:"log"`
	Export struct {
		Dir  string `hcl:"dir"`
		File string `hcl:"file"` // strftime pattern
	} `hcl:"export"`
	Engine  engine_config.Config `hcl:"engine"`
	Persist struct {
		Root string `hcl:"root"`
	} `hcl:"persist"`
	Tele tele_config.Config `hcl:"tele"`
}

type ConfigSource struct {
	Name     string `hcl:"name,key"`
	Optional bool   `hcl:"optional"`
}

func (c *Config) ReadTimeout() time.Duration {
	return helpers.IntMillisecondDefault(c.Serial.ReadTimeoutMs, uart.DefaultReadTimeout)
}

func (c *Config) TimeSource() telemetry.TimeSource {
	src, _ := telemetry.ParseTimeSource(c.Buffer.TimeSource)
	return src
}

// Defaults fills zero values and validates the rest.
func (c *Config) Defaults() error {
	errs := make([]error, 0, 4)

	if c.Serial.Baud == 0 {
		c.Serial.Baud = uart.DefaultBaud
	} else if err := uart.CheckBaud(c.Serial.Baud); err != nil {
		errs = append(errs, errors.Annotate(err, "config serial.baud"))
	}
	switch c.Serial.Driver {
	case "":
		c.Serial.Driver = uart.DriverSerial
	case uart.DriverSerial, uart.DriverFile:
	default:
		errs = append(errs, errors.NotValidf("config serial.driver=%s", c.Serial.Driver))
	}
	if c.Serial.ReadTimeoutMs < 0 {
		errs = append(errs, errors.NotValidf("config serial.read_timeout_ms=%d", c.Serial.ReadTimeoutMs))
	}
	if c.Serial.QueueSize < 0 {
		errs = append(errs, errors.NotValidf("config serial.queue_size=%d", c.Serial.QueueSize))
	}

	if c.Buffer.Capacity < 0 {
		errs = append(errs, errors.NotValidf("config buffer.capacity=%d", c.Buffer.Capacity))
	} else if c.Buffer.Capacity == 0 {
		c.Buffer.Capacity = telemetry.DefaultCapacity
	}
	if c.Buffer.TimeSource == "" {
		c.Buffer.TimeSource = string(telemetry.TimeLocal)
	} else if _, err := telemetry.ParseTimeSource(c.Buffer.TimeSource); err != nil {
		errs = append(errs, errors.Annotate(err, "config buffer.time_source"))
	}
	if c.Buffer.RawLogMax < 0 {
		errs = append(errs, errors.NotValidf("config buffer.raw_log_max=%d", c.Buffer.RawLogMax))
	}

	if c.Log.TimeFormat == "" {
		c.Log.TimeFormat = telemetry.DefaultTimeFormat
	} else if _, err := strftime.New(c.Log.TimeFormat); err != nil {
		errs = append(errs, errors.NewNotValid(err, "config log.time_format"))
	}

	if c.Export.Dir == "" {
		c.Export.Dir = "."
	}
	if c.Export.File == "" {
		c.Export.File = export.DefaultFile
	} else if _, err := export.FileName(c.Export.File, time.Now()); err != nil {
		errs = append(errs, errors.Annotate(err, "config export.file"))
	}

	if c.Tele.PersistPath == "" && c.Persist.Root != "" {
		c.Tele.PersistPath = filepath.Join(c.Persist.Root, "tele")
	}
	return helpers.FoldErrors(errs)
}

func (c *Config) read(log *log2.Log, fs FullReader, source ConfigSource, errs *[]error) {
	norm := fs.Normalize(source.Name)
	if _, ok := c.includeSeen[norm]; ok {
		*errs = append(*errs, errors.AlreadyExistsf("config duplicate source=%s", source.Name))
		return
	}
	log.Debugf("config reading source='%s' path=%s", source.Name, norm)
	c.includeSeen[source.Name] = struct{}{}
	c.includeSeen[norm] = struct{}{}

	bs, err := fs.ReadAll(norm)
	if bs == nil && err == nil {
		if !source.Optional {
			err = errors.NotFoundf("config required name=%s path=%s", source.Name, norm)
			*errs = append(*errs, err)
		}
		return
	}
	if err != nil {
		*errs = append(*errs, errors.Annotatef(err, "config source=%s", source.Name))
		return
	}

	err = hcl.Unmarshal(bs, c)
	if err != nil {
		err = errors.Annotatef(err, "config unmarshal source=%s content='%s'", source.Name, string(bs))
		*errs = append(*errs, err)
		return
	}

	var includes []ConfigSource
	includes, c.XXX_Include = c.XXX_Include, nil
	for _, include := range includes {
		includeNorm := fs.Normalize(include.Name)
		if _, ok := c.includeSeen[includeNorm]; ok {
			err = errors.Errorf("config include loop: from=%s include=%s", source.Name, include.Name)
			*errs = append(*errs, err)
			continue
		}
		c.read(log, fs, include, errs)
	}
}

func ReadConfig(log *log2.Log, fs FullReader, names ...string) (*Config, error) {
	if len(names) == 0 {
		return nil, errors.Errorf("code error ReadConfig() without names")
	}

	if osfs, ok := fs.(*OsFullReader); ok {
		dir, name := filepath.Split(names[0])
		osfs.SetBase(dir)
		names[0] = name
	}
	c := &Config{
		includeSeen: make(map[string]struct{}),
	}
	errs := make([]error, 0, 8)
	for _, name := range names {
		c.read(log, fs, ConfigSource{Name: name}, &errs)
	}
	return c, helpers.FoldErrors(errs)
}

func MustReadConfig(log *log2.Log, fs FullReader, names ...string) *Config {
	c, err := ReadConfig(log, fs, names...)
	if err != nil {
		log.Fatal(errors.ErrorStack(err))
	}
	return c
}
