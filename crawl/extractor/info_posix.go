package extractor

import (
	"context"
	"crypto/md5"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	goeval "github.com/edisonguo/govaluate"
	"github.com/nci/nightlights/store/filestore"
)

func GetPosixInfo(filePath string, fStat os.FileInfo) *PosixInfo {
	info := &PosixInfo{
		FilePath: filePath,
		Size:     fStat.Size(),
		MTime:    fStat.ModTime().UTC(),
		CTime:    fStat.ModTime().UTC(),
	}
	if stat, ok := fStat.Sys().(*syscall.Stat_t); ok {
		info.INode = stat.Ino
		info.CTime = time.Unix(int64(stat.Ctim.Sec), int64(stat.Ctim.Nsec)).UTC()
	}
	fileSignature := fmt.Sprintf("%s%d%d%d", filePath, info.INode, info.Size, info.MTime.UnixNano())
	info.ID = fmt.Sprintf("%x", md5.Sum([]byte(fileSignature)))
	return info
}

// ParsePatternExpression compiles a crawl filter over the variables path
// and type ("d" or "f"). An empty pattern accepts everything.
func ParsePatternExpression(pattern string) (*goeval.EvaluableExpression, error) {
	if len(strings.TrimSpace(pattern)) == 0 {
		return nil, nil
	}

	expr, err := goeval.NewEvaluableExpression(pattern)
	if err != nil {
		return nil, err
	}

	validVariables := map[string]struct{}{"path": {}, "type": {}}
	for _, token := range expr.Tokens() {
		if token.Kind == goeval.VARIABLE {
			varName, ok := token.Value.(string)
			if !ok {
				return nil, fmt.Errorf("variable token '%v' failed to cast string", token.Value)
			}
			if _, found := validVariables[varName]; !found {
				return nil, fmt.Errorf("variable %v is not supported. Valid variables are path, type", varName)
			}
		}
	}
	return expr, nil
}

const DefaultMaxPosixErrors = 1000

// PosixCrawler walks a store root concurrently and decodes every raster
// sidecar it finds. Results are delivered to a single consumer goroutine.
type PosixCrawler struct {
	Outputs       chan *GeoFile
	Error         chan error
	wg            sync.WaitGroup
	concLimit     chan struct{}
	pattern       *goeval.EvaluableExpression
	followSymlink bool
	root          string
}

func NewPosixCrawler(conc int, pattern *goeval.EvaluableExpression, followSymlink bool) *PosixCrawler {
	if conc < 1 {
		conc = 1
	}
	return &PosixCrawler{
		Outputs:       make(chan *GeoFile, 4096),
		Error:         make(chan error, DefaultMaxPosixErrors),
		concLimit:     make(chan struct{}, conc),
		pattern:       pattern,
		followSymlink: followSymlink,
	}
}

// Crawl walks root and calls consume for every sidecar found. consume is
// never called concurrently. Walk errors are collected and returned
// together once the walk is complete.
func (pc *PosixCrawler) Crawl(ctx context.Context, root string, consume func(*GeoFile) error) error {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return err
	}
	pc.root = absRoot

	consumeDone := make(chan struct{})
	go func() {
		defer close(consumeDone)
		for geo := range pc.Outputs {
			if err := consume(geo); err != nil {
				pc.report(fmt.Errorf("%s: %w", geo.Posix.FilePath, err))
			}
		}
	}()

	pc.wg.Add(1)
	pc.concLimit <- struct{}{}
	pc.crawlDir(ctx, absRoot, false)
	pc.wg.Wait()

	close(pc.Outputs)
	<-consumeDone

	close(pc.Error)
	var errs []error
	for err := range pc.Error {
		errs = append(errs, err)
	}
	if err := ctx.Err(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (pc *PosixCrawler) report(err error) {
	select {
	case pc.Error <- err:
	default:
	}
}

func (pc *PosixCrawler) crawlDir(ctx context.Context, currPath string, serialised bool) {
	defer pc.wg.Done()
	if !serialised {
		defer func() { <-pc.concLimit }()
	}
	if ctx.Err() != nil {
		return
	}

	entries, err := os.ReadDir(currPath)
	if err != nil {
		pc.report(err)
		return
	}

	for _, entry := range entries {
		filePath := filepath.Join(currPath, entry.Name())
		fileMode := entry.Type()

		var fStat os.FileInfo
		if fileMode&fs.ModeSymlink != 0 {
			if !pc.followSymlink {
				continue
			}
			fStat, err = os.Stat(filePath)
			if err != nil {
				pc.report(err)
				continue
			}
			fileMode = fStat.Mode().Type()
		}

		isDir := fileMode.IsDir()
		if !isDir && !fileMode.IsRegular() {
			continue
		}
		// in-flight temporary files from concurrent exports
		if strings.HasPrefix(entry.Name(), ".tmp-") {
			continue
		}

		if pc.pattern != nil {
			result, err := pc.evaluatePatternExpression(filePath, isDir)
			if err != nil {
				pc.report(err)
				continue
			}
			if !result {
				continue
			}
		}

		if isDir {
			pc.wg.Add(1)
			select {
			case pc.concLimit <- struct{}{}:
				go pc.crawlDir(ctx, filePath, false)
			default:
				pc.crawlDir(ctx, filePath, true)
			}
			continue
		}

		if filepath.Ext(filePath) != filestore.SidecarExt {
			continue
		}

		if fStat == nil {
			fStat, err = entry.Info()
			if err != nil {
				pc.report(err)
				continue
			}
		}

		geo, err := pc.extract(filePath, fStat)
		if err != nil {
			pc.report(err)
			continue
		}
		pc.Outputs <- geo
	}
}

func (pc *PosixCrawler) extract(filePath string, fStat os.FileInfo) (*GeoFile, error) {
	sc, err := filestore.ReadSidecar(filePath)
	if err != nil {
		return nil, err
	}
	grid, err := sc.Grid()
	if err != nil {
		return nil, err
	}
	rel, err := filepath.Rel(pc.root, filePath)
	if err != nil {
		return nil, err
	}
	return &GeoFile{
		Posix: GetPosixInfo(filePath, fStat),
		ID:    sc.ID,
		Asset: sc.Asset(filepath.ToSlash(rel)),
		Grid:  grid,
		Type:  sc.Type,
	}, nil
}

func (pc *PosixCrawler) evaluatePatternExpression(filePath string, isDir bool) (bool, error) {
	fileType := "f"
	if isDir {
		fileType = "d"
	}

	parameters := map[string]interface{}{"type": fileType, "path": filePath}
	result, err := pc.pattern.Evaluate(parameters)
	if err != nil {
		return false, fmt.Errorf("pattern expression: %v", err)
	}

	val, ok := result.(bool)
	if !ok {
		return false, fmt.Errorf("pattern expression: result '%v' is not boolean", result)
	}
	return val, nil
}
