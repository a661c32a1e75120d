package offline

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"

	"github.com/klauspost/compress/zip"
)

// Package is the decoded content of an archive written by Writer.
type Package struct {
	Manifest Manifest
	Messages []Message
	Assets   map[string][]byte
}

// Read decodes the package at path.
func Read(path string) (*Package, error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return nil, fmt.Errorf("open package: %w", err)
	}
	defer zr.Close()

	pkg := &Package{Assets: make(map[string][]byte)}
	for _, f := range zr.File {
		data, err := readMember(f)
		if err != nil {
			return nil, err
		}
		switch {
		case f.Name == ManifestFile:
			if err := json.Unmarshal(data, &pkg.Manifest); err != nil {
				return nil, fmt.Errorf("parse manifest: %w", err)
			}
		case f.Name == MessagesFile:
			scanner := bufio.NewScanner(bytes.NewReader(data))
			scanner.Buffer(make([]byte, 0, 64*1024), 64*1024*1024)
			for scanner.Scan() {
				var m Message
				if err := json.Unmarshal(scanner.Bytes(), &m); err != nil {
					return nil, fmt.Errorf("parse message: %w", err)
				}
				pkg.Messages = append(pkg.Messages, m)
			}
			if err := scanner.Err(); err != nil {
				return nil, fmt.Errorf("scan messages: %w", err)
			}
		default:
			pkg.Assets[f.Name] = data
		}
	}
	return pkg, nil
}

func readMember(f *zip.File) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", f.Name, err)
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", f.Name, err)
	}
	return data, nil
}

// Of returns the messages of the given type.
func (p *Package) Of(typ string) []Message {
	var out []Message
	for _, m := range p.Messages {
		if m.Type == typ {
			out = append(out, m)
		}
	}
	return out
}
