package repository

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"chat_sync_service/internal/chat/domain"
	"chat_sync_service/pkg/config"
	"chat_sync_service/pkg/errs"
	"chat_sync_service/pkg/logger"

	"github.com/cockroachdb/pebble"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
	"golang.org/x/sync/singleflight"
)

const keyMediaPrefix = "mediaidx:"

// MediaRepository definition content-addressed media file cache. Lookups
// whose backing file vanished are misses, never errors.
type MediaRepository interface {
	// CacheMedia returns the local path for url, downloading through the
	// bounded queue on a miss. Concurrent calls for one url coalesce.
	CacheMedia(ctx context.Context, url string, kind domain.AttachmentKind) (string, error)
	// PreloadMedia as CacheMedia but inserted at the front of the queue
	// (voice preload on room open).
	PreloadMedia(ctx context.Context, url string, kind domain.AttachmentKind) (string, error)
	Sweep()
	Close()
}

type mediaIndexEntry struct {
	URL       string                `json:"url"`
	LocalPath string                `json:"local_path"`
	Kind      domain.AttachmentKind `json:"kind"`
	SavedAt   time.Time             `json:"saved_at"`
}

type mediaJob struct {
	url  string
	kind domain.AttachmentKind
	done chan mediaResult
}

type mediaResult struct {
	path string
	err  error
}

type fileMediaRepository struct {
	db  *pebble.DB
	dir string
	cfg config.MediaConfig

	retainFor time.Duration

	flight singleflight.Group
	sem    *semaphore.Weighted

	mu     sync.Mutex
	queue  []*mediaJob
	wake   chan struct{}
	closed chan struct{}
	once   sync.Once

	client *fasthttp.Client
}

// NewFileMediaRepository builds the media cache rooted at dir, sharing
// the cache's pebble handle for the index, and starts the dispatcher.
func NewFileMediaRepository(db *pebble.DB, dir string, cfg config.MediaConfig, retainFor time.Duration) MediaRepository {
	r := &fileMediaRepository{
		db:        db,
		dir:       dir,
		cfg:       cfg,
		retainFor: retainFor,
		sem:       semaphore.NewWeighted(int64(cfg.Concurrency)),
		wake:      make(chan struct{}, 1),
		closed:    make(chan struct{}),
		client: &fasthttp.Client{
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
	}
	go r.dispatch()
	return r
}

// CacheMedia resolve or download at normal priority
func (r *fileMediaRepository) CacheMedia(ctx context.Context, url string, kind domain.AttachmentKind) (string, error) {
	return r.fetch(ctx, url, kind, false)
}

// PreloadMedia resolve or download at front-of-queue priority
func (r *fileMediaRepository) PreloadMedia(ctx context.Context, url string, kind domain.AttachmentKind) (string, error) {
	return r.fetch(ctx, url, kind, true)
}

func (r *fileMediaRepository) fetch(ctx context.Context, url string, kind domain.AttachmentKind, priority bool) (string, error) {
	if path, ok := r.lookup(url); ok {
		return path, nil
	}

	// the shared download is detached from any single caller, so one
	// caller canceling only abandons its own wait; the others still get
	// the result
	ch := r.flight.DoChan(hashURL(url), func() (interface{}, error) {
		job := &mediaJob{url: url, kind: kind, done: make(chan mediaResult, 1)}
		r.enqueue(job, priority)
		select {
		case res := <-job.done:
			return res.path, res.err
		case <-r.closed:
			return "", errs.Newf(errs.KindStorage, "media fetch", "repository closed")
		}
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	case <-ctx.Done():
		return "", errs.New(errs.KindNetwork, "media fetch", ctx.Err())
	}
}

// lookup resolves the index entry, dropping it when the file is gone.
func (r *fileMediaRepository) lookup(url string) (string, bool) {
	data, closer, err := r.db.Get([]byte(keyMediaPrefix + hashURL(url)))
	if err != nil {
		return "", false
	}
	defer closer.Close()
	var entry mediaIndexEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		return "", false
	}
	if _, err := os.Stat(entry.LocalPath); err != nil {
		// index said hit but the file is gone; treat as a miss and refetch
		_ = r.db.Delete([]byte(keyMediaPrefix+hashURL(url)), pebble.NoSync)
		return "", false
	}
	return entry.LocalPath, true
}

func (r *fileMediaRepository) enqueue(job *mediaJob, priority bool) {
	r.mu.Lock()
	if priority {
		r.queue = append([]*mediaJob{job}, r.queue...)
	} else {
		r.queue = append(r.queue, job)
	}
	r.mu.Unlock()
	select {
	case r.wake <- struct{}{}:
	default:
	}
}

// dispatch pops jobs off the queue under the global concurrency cap.
// The pause between downloads keeps bursts from saturating the device's
// network stack.
func (r *fileMediaRepository) dispatch() {
	for {
		select {
		case <-r.closed:
			return
		case <-r.wake:
		}
		for {
			r.mu.Lock()
			if len(r.queue) == 0 {
				r.mu.Unlock()
				break
			}
			job := r.queue[0]
			r.queue = r.queue[1:]
			r.mu.Unlock()

			if err := r.sem.Acquire(context.Background(), 1); err != nil {
				job.done <- mediaResult{err: errs.New(errs.KindStorage, "media queue", err)}
				continue
			}
			go func(j *mediaJob) {
				defer r.sem.Release(1)
				path, err := r.download(j.url, j.kind)
				j.done <- mediaResult{path: path, err: err}
				time.Sleep(r.cfg.BatchPause)
			}(job)
		}
	}
}

func (r *fileMediaRepository) download(url string, kind domain.AttachmentKind) (string, error) {
	subdir := filepath.Join(r.dir, string(kind))
	if err := os.MkdirAll(subdir, 0755); err != nil {
		return "", errs.New(errs.KindStorage, "media dir", err)
	}

	status, body, err := r.client.GetTimeout(nil, url, 30*time.Second)
	if err != nil {
		return "", errs.New(errs.KindNetwork, "media download", err)
	}
	if status != fasthttp.StatusOK {
		return "", errs.Newf(errs.KindNetwork, "media download", "unexpected status %d for %s", status, url)
	}

	path := filepath.Join(subdir, hashURL(url))
	if err := os.WriteFile(path, body, 0644); err != nil {
		return "", errs.New(errs.KindStorage, "media write", err)
	}

	entry := mediaIndexEntry{URL: url, LocalPath: path, Kind: kind, SavedAt: time.Now()}
	data, _ := json.Marshal(entry)
	if err := r.db.Set([]byte(keyMediaPrefix+hashURL(url)), data, pebble.NoSync); err != nil {
		logger.Log.Warn("media_index_save_failed", zap.String("url", url), zap.Error(err))
	}
	logger.Log.Debug("media_cached", zap.String("url", url), zap.String("path", path))
	return path, nil
}

// Sweep removes media files older than the retention threshold, checking
// file modification time, and drops index entries whose file is missing.
func (r *fileMediaRepository) Sweep() {
	iter, err := r.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte(keyMediaPrefix),
		UpperBound: []byte(keyMediaPrefix + "\xff"),
	})
	if err != nil {
		logger.Log.Warn("media_sweep_iter_failed", zap.Error(err))
		return
	}
	var drop [][]byte
	for iter.First(); iter.Valid(); iter.Next() {
		var entry mediaIndexEntry
		if err := json.Unmarshal(iter.Value(), &entry); err != nil {
			drop = append(drop, append([]byte(nil), iter.Key()...))
			continue
		}
		info, err := os.Stat(entry.LocalPath)
		if err != nil {
			drop = append(drop, append([]byte(nil), iter.Key()...))
			continue
		}
		if time.Since(info.ModTime()) > r.retainFor {
			if err := os.Remove(entry.LocalPath); err != nil {
				logger.Log.Warn("media_sweep_remove_failed", zap.String("path", entry.LocalPath), zap.Error(err))
				continue
			}
			drop = append(drop, append([]byte(nil), iter.Key()...))
		}
	}
	if err := iter.Close(); err != nil {
		logger.Log.Warn("media_sweep_iter_close_failed", zap.Error(err))
	}
	for _, key := range drop {
		_ = r.db.Delete(key, pebble.NoSync)
	}
	if len(drop) > 0 {
		logger.Log.Info("media_sweep_done", zap.Int("dropped", len(drop)))
	}
}

// Close stops the dispatcher.
func (r *fileMediaRepository) Close() {
	r.once.Do(func() { close(r.closed) })
}

func hashURL(url string) string {
	sum := sha1.Sum([]byte(url))
	return hex.EncodeToString(sum[:])
}
