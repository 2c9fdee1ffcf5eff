package extractor

import (
	"time"

	"github.com/nci/nightlights/raster"
	"github.com/nci/nightlights/store"
)

type PosixInfo struct {
	FilePath string    `json:"file_path"`
	INode    uint64    `json:"inode"`
	Size     int64     `json:"size"`
	MTime    time.Time `json:"mtime"`
	CTime    time.Time `json:"ctime"`
	ID       string    `json:"id"`
}

// GeoFile is one raster sidecar found by the crawler.
type GeoFile struct {
	Posix *PosixInfo  `json:"posix"`
	ID    string      `json:"id"`
	Asset store.Asset `json:"asset"`
	Grid  raster.Grid `json:"grid"`
	Type  string      `json:"array_type"`
}

// Summary counts the outcome of an indexing run.
type Summary struct {
	Files       int `json:"files"`
	Indexed     int `json:"indexed"`
	Standalone  int `json:"standalone"`
	Collections int `json:"collections"`
	Errors      int `json:"errors"`
}
