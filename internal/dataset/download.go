package dataset

import (
	"context"
	"io"
	"log"
	"net/http"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
)

// DefaultBaseURL is the mirror the gzipped MNIST files are fetched from.
const DefaultBaseURL = "https://storage.googleapis.com/cvdf-datasets/mnist/"

// Files lists the four MNIST files, without the .gz suffix.
var Files = []string{TrainImagesFile, TrainLabelsFile, TestImagesFile, TestLabelsFile}

// Download fetches every MNIST file that is missing from dir, gzipped or
// raw, from baseURL (DefaultBaseURL when empty). Files are stored gzipped
// as Load reads them.
func Download(ctx context.Context, dir, baseURL string) error {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrap(err, "download")
	}
	for _, name := range Files {
		if present(dir, name) {
			continue
		}
		log.Printf("downloading %s%s.gz", baseURL, name)
		if err := fetch(ctx, baseURL+name+".gz", filepath.Join(dir, name+".gz")); err != nil {
			return errors.Wrapf(err, "download %s", name)
		}
	}
	return nil
}

// present reports whether dir holds name or name.gz.
func present(dir, name string) bool {
	for _, p := range []string{filepath.Join(dir, name), filepath.Join(dir, name+".gz")} {
		if _, err := os.Stat(p); err == nil {
			return true
		}
	}
	return false
}

// fetch writes url to path through a temporary file, so an interrupted
// transfer never leaves a truncated file behind.
func fetch(ctx context.Context, url, path string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return errors.Errorf("GET %s: %s", url, resp.Status)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.part")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, resp.Body); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
