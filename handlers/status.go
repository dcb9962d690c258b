package handlers

import (
	"fmt"
	"io/fs"
	"net/http"
	"path/filepath"
	"sort"

	"github.com/c2h5oh/datasize"
	"github.com/labstack/echo/v4"

	"stashcast/config"
	"stashcast/pipeline"
)

// getDirectorySize calculates the total size of a directory in bytes
func getDirectorySize(dir string) (int64, error) {
	var size int64
	err := filepath.WalkDir(dir, func(_ string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		size += info.Size()
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("error walking directory: %v", err)
	}
	return size, nil
}

type buildInfo struct {
	BuildDate    string `json:"build_date"`
	BuildID      string `json:"build_id"`
	BuildIDShort string `json:"build_id_short"`
}

func makeBuildInfo() buildInfo {
	sha := config.GetGitSHA()
	short := sha
	if len(short) > 7 {
		short = short[:7]
	}
	return buildInfo{
		BuildDate:    config.GetBuildDate(),
		BuildID:      sha,
		BuildIDShort: short,
	}
}

func StatusGet(c echo.Context) error {
	ctx := c.Request().Context()

	names := make([]string, 0, len(env.Versions))
	for name := range env.Versions {
		names = append(names, name)
	}
	sort.Strings(names)
	versions := map[string]string{}
	for _, name := range names {
		v, err := env.Versions[name](ctx)
		if err != nil {
			log.Errorln(err)
			v = "unavailable"
		}
		versions[name] = v
	}

	free, err := pipeline.FreeSpace(env.MediaDir)
	if err != nil {
		log.Errorln(err)
	}
	used, err := getDirectorySize(env.MediaDir)
	if err != nil {
		log.Errorln(err)
	}

	body := map[string]interface{}{
		"versions": versions,
		"free":     datasize.ByteSize(free).HumanReadable(),
		"used":     datasize.ByteSize(used).HumanReadable(),
		"build":    makeBuildInfo(),
	}
	if env.Limiter != nil {
		msg, err := env.Limiter.Check()
		if err != nil {
			log.Errorln(err)
		}
		body["limit"] = msg
	}
	return c.JSON(http.StatusOK, body)
}
