package store

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/gowebpki/jcs"
)

// Exists reports whether path exists.
func Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// writeFile writes data next to path and renames it into place.
func writeFile(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create dir: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}

// WriteJSON writes v as canonical (RFC 8785) JSON.
func WriteJSON(path string, v any) (int64, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return 0, fmt.Errorf("marshal %s: %w", filepath.Base(path), err)
	}
	canon, err := jcs.Transform(data)
	if err != nil {
		return 0, fmt.Errorf("canonicalize %s: %w", filepath.Base(path), err)
	}
	if err := writeFile(path, canon); err != nil {
		return 0, err
	}
	return int64(len(canon)), nil
}

// WriteJSONL writes one JSON document per line.
func WriteJSONL[T any](path string, rows []T) (int64, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	for _, row := range rows {
		if err := enc.Encode(row); err != nil {
			return 0, fmt.Errorf("marshal %s: %w", filepath.Base(path), err)
		}
	}
	if err := writeFile(path, buf.Bytes()); err != nil {
		return 0, err
	}
	return int64(buf.Len()), nil
}

// WriteText writes a UTF-8 text file.
func WriteText(path, text string) (int64, error) {
	return WriteBytes(path, []byte(text))
}

// WriteBytes writes raw bytes.
func WriteBytes(path string, data []byte) (int64, error) {
	if err := writeFile(path, data); err != nil {
		return 0, err
	}
	return int64(len(data)), nil
}

// Place streams a remote file into path. The body is first fetched into a
// private temp file; path is only written once the fetch fully succeeded, so
// a failed transfer never leaves a partial file at the canonical location.
func Place(ctx context.Context, path string, open func(context.Context) (io.ReadCloser, error)) (int64, error) {
	tmp, err := os.CreateTemp("", "expmirror-*")
	if err != nil {
		return 0, fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())
	defer tmp.Close()

	body, err := open(ctx)
	if err != nil {
		return 0, err
	}
	n, err := io.Copy(tmp, body)
	body.Close()
	if err != nil {
		return 0, fmt.Errorf("download %s: %w", filepath.Base(path), err)
	}
	if _, err := tmp.Seek(0, io.SeekStart); err != nil {
		return 0, fmt.Errorf("rewind temp file: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return 0, fmt.Errorf("create dir: %w", err)
	}
	part := path + ".tmp"
	out, err := os.Create(part)
	if err != nil {
		return 0, fmt.Errorf("create %s: %w", filepath.Base(path), err)
	}
	if _, err := io.Copy(out, tmp); err != nil {
		out.Close()
		os.Remove(part)
		return 0, fmt.Errorf("copy into place: %w", err)
	}
	if err := out.Close(); err != nil {
		os.Remove(part)
		return 0, fmt.Errorf("close %s: %w", filepath.Base(path), err)
	}
	if err := os.Rename(part, path); err != nil {
		os.Remove(part)
		return 0, fmt.Errorf("rename into place: %w", err)
	}
	return n, nil
}

// ReadJSON decodes the JSON file at path into v, keeping numbers exact.
func ReadJSON(path string, v any) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	dec := json.NewDecoder(f)
	dec.UseNumber()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("parse %s: %w", filepath.Base(path), err)
	}
	return nil
}

// ReadJSONL decodes every line of a JSON-Lines file. A missing file yields
// no rows.
func ReadJSONL[T any](path string) ([]T, error) {
	var rows []T
	err := EachJSONL(path, func(line []byte) error {
		var row T
		dec := json.NewDecoder(bytes.NewReader(line))
		dec.UseNumber()
		if err := dec.Decode(&row); err != nil {
			return err
		}
		rows = append(rows, row)
		return nil
	})
	return rows, err
}

// EachJSONL calls fn with each non-empty line of the file at path.
func EachJSONL(path string, fn func(line []byte) error) error {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("open %s: %w", filepath.Base(path), err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 64*1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		if err := fn(line); err != nil {
			return fmt.Errorf("%s line %d: %w", filepath.Base(path), lineNo, err)
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("scan %s: %w", filepath.Base(path), err)
	}
	return nil
}
