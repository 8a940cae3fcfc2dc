// Package conf loads engine configuration from an ini file, with CLI flags
// overriding whatever the file sets (§6 CLI surface), the way the teacher's
// server/conf loads mysqld.ini sections before layering flag overrides.
package conf

import (
	"flag"
	"os"

	"gopkg.in/ini.v1"

	"github.com/latticedb/lattice/server/innodb/buffer_pool"
)

// Cfg is the resolved configuration for one enginectl invocation.
type Cfg struct {
	Raw *ini.File

	DataDir      string
	TempDir      string
	PoolCapacity int

	Batch    bool
	Database string
	Table    string
	Filepath string
	Init     bool

	// ConfigPath is the ini file to load, a separate ambient-config knob
	// from §6's CLI surface (which names no ini flag of its own).
	ConfigPath string
}

// Default returns the built-in defaults, applied before any ini file or
// flag is consulted.
func Default() *Cfg {
	return &Cfg{
		Raw:          ini.Empty(),
		DataDir:      "./data",
		TempDir:      "./data/tmp",
		PoolCapacity: buffer_pool.PooledPages,
	}
}

// LoadFile overlays an ini file's [engine] section onto cfg. A missing file
// is not an error: a fresh install has no ini file yet and runs entirely
// off defaults and flags.
func (cfg *Cfg) LoadFile(path string) error {
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}
	iniFile, err := ini.Load(path)
	if err != nil {
		return err
	}
	cfg.Raw = iniFile

	section := iniFile.Section("engine")
	if key := section.Key("data_dir"); key.String() != "" {
		cfg.DataDir = key.String()
	}
	if key := section.Key("temp_dir"); key.String() != "" {
		cfg.TempDir = key.String()
	}
	if key := section.Key("pool_capacity"); key.String() != "" {
		cfg.PoolCapacity = key.MustInt(cfg.PoolCapacity)
	}
	return nil
}

// BindFlags registers §6's CLI flags on fs, writing into cfg; overrides
// whatever LoadFile already set.
func (cfg *Cfg) BindFlags(fs *flag.FlagSet) {
	fs.BoolVar(&cfg.Batch, "b", cfg.Batch, "no prompt, csv output")
	fs.BoolVar(&cfg.Batch, "batch", cfg.Batch, "no prompt, csv output")
	fs.StringVar(&cfg.Database, "d", cfg.Database, "preset current database")
	fs.StringVar(&cfg.Database, "database", cfg.Database, "preset current database")
	fs.StringVar(&cfg.Table, "t", cfg.Table, "preset focus table")
	fs.StringVar(&cfg.Table, "table", cfg.Table, "preset focus table")
	fs.StringVar(&cfg.Filepath, "f", cfg.Filepath, "batch command file")
	fs.StringVar(&cfg.Filepath, "filepath", cfg.Filepath, "batch command file")
	fs.BoolVar(&cfg.Init, "init", cfg.Init, "purge root data directory and exit")
	fs.StringVar(&cfg.DataDir, "data-dir", cfg.DataDir, "override engine data directory root")
	fs.StringVar(&cfg.ConfigPath, "config", cfg.ConfigPath, "ini config file path")
}
