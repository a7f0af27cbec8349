package server

import (
	"image"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/segmentio/ksuid"

	"github.com/chaos-io/chromakey/util"
)

var (
	ErrNotFound  = errors.New("result not found")
	ErrInvalidID = errors.New("invalid result id")
)

const resultExt = ".png"

// Store 把处理结果按 ksuid 存成 <dir>/<id>.png，ksuid 自带的时间戳用于过期清理
type Store struct {
	dir string
	mu  sync.Mutex
}

func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, os.ModePerm); err != nil {
		return nil, errors.Wrapf(err, "create results dir %s", dir)
	}
	return &Store{dir: dir}, nil
}

func (s *Store) Put(img image.Image) (string, error) {
	return s.put(ksuid.New(), img)
}

func (s *Store) put(id ksuid.KSUID, img image.Image) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := util.SavePNG(s.file(id), img); err != nil {
		return "", err
	}
	return id.String(), nil
}

// Path 返回结果文件路径，id 必须是合法 ksuid，避免拼出目录外的路径
func (s *Store) Path(id string) (string, error) {
	k, err := ksuid.Parse(id)
	if err != nil {
		return "", errors.Wrap(ErrInvalidID, id)
	}

	p := s.file(k)
	if _, err := os.Stat(p); err != nil {
		if os.IsNotExist(err) {
			return "", errors.Wrap(ErrNotFound, id)
		}
		return "", errors.Wrapf(err, "stat %s", id)
	}
	return p, nil
}

func (s *Store) Open(id string) (image.Image, error) {
	p, err := s.Path(id)
	if err != nil {
		return nil, err
	}
	img, _, err := util.OpenImage(p)
	return img, err
}

func (s *Store) Delete(id string) error {
	p, err := s.Path(id)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(p); err != nil {
		if os.IsNotExist(err) {
			return errors.Wrap(ErrNotFound, id)
		}
		return errors.Wrapf(err, "remove %s", id)
	}
	return nil
}

// Purge 删除创建时间早于 now-ttl 的结果，返回删除数量。
// 目录里不是 ksuid 命名的文件不动。
func (s *Store) Purge(now time.Time, ttl time.Duration) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return 0, errors.Wrapf(err, "read results dir %s", s.dir)
	}

	cutoff := now.Add(-ttl)
	removed := 0
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, resultExt) {
			continue
		}

		k, err := ksuid.Parse(strings.TrimSuffix(name, resultExt))
		if err != nil {
			continue
		}
		if !k.Time().Before(cutoff) {
			continue
		}

		if err := os.Remove(filepath.Join(s.dir, name)); err != nil && !os.IsNotExist(err) {
			slog.Warn("purge result failed", "id", k.String(), "err", err)
			continue
		}
		removed++
	}
	return removed, nil
}

func (s *Store) file(id ksuid.KSUID) string {
	return filepath.Join(s.dir, id.String()+resultExt)
}
