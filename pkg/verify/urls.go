package verify

import (
	"bufio"
	"errors"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/devraulu/hilight/pkg/page"
)

var ErrNoURLs = errors.New("no urls loaded")

// LoadURLs reads one URL per line and returns the page hashes they map to.
// Blank lines and lines starting with # are ignored.
func LoadURLs(path string) (map[string]string, error) {
	slog.Info("loading urls", "path", path)
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	return ReadURLs(file)
}

func ReadURLs(r io.Reader) (map[string]string, error) {
	hashes := make(map[string]string)

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		hash, err := page.Hash(line)
		if err != nil {
			slog.Error("couldn't hash url", slog.String("url", line), slog.Any("err", err))
			continue
		}
		hashes[hash] = line
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	if len(hashes) == 0 {
		return nil, ErrNoURLs
	}

	slog.Info("loaded urls", "count", len(hashes))
	return hashes, nil
}
