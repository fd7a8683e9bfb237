package objstore

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

type memObject struct {
	data        []byte
	contentType string
	modified    time.Time
}

type memUpload struct {
	key         string
	contentType string
	parts       map[int][]byte
}

// MemoryStore is an in-process Store. Presigned URLs use the memory:// scheme
// and are not dereferenceable; parts are supplied through UploadPart.
type MemoryStore struct {
	bucket string

	mu      sync.RWMutex
	objects map[string]memObject
	uploads map[string]*memUpload
}

func NewMemoryStore(bucket string) *MemoryStore {
	return &MemoryStore{
		bucket:  bucket,
		objects: make(map[string]memObject),
		uploads: make(map[string]*memUpload),
	}
}

func (m *MemoryStore) CreateMultipartUpload(_ context.Context, key, contentType string) (string, error) {
	id := uuid.NewString()
	m.mu.Lock()
	m.uploads[id] = &memUpload{key: key, contentType: contentType, parts: make(map[int][]byte)}
	m.mu.Unlock()
	return id, nil
}

func (m *MemoryStore) PresignPart(_ context.Context, key, uploadID string, partNumber int, ttl time.Duration) (string, error) {
	q := url.Values{}
	q.Set("partNumber", fmt.Sprint(partNumber))
	q.Set("uploadId", uploadID)
	q.Set("X-Expires", fmt.Sprint(int(ttl.Seconds())))
	return "memory://" + m.bucket + "/" + key + "?" + q.Encode(), nil
}

// UploadPart stands in for the client's PUT against a presigned URL and
// returns the part ETag.
func (m *MemoryStore) UploadPart(key, uploadID string, partNumber int, data []byte) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	up, ok := m.uploads[uploadID]
	if !ok || up.key != key {
		return "", ErrNoSuchUpload
	}
	up.parts[partNumber] = append([]byte(nil), data...)
	return etag(data), nil
}

func (m *MemoryStore) CompleteMultipartUpload(_ context.Context, key, uploadID string, parts []Part) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	up, ok := m.uploads[uploadID]
	if !ok || up.key != key {
		return ErrNoSuchUpload
	}

	var buf bytes.Buffer
	prev := 0
	for _, p := range parts {
		if p.Number <= prev {
			return fmt.Errorf("%w: parts out of order", ErrInvalidPart)
		}
		prev = p.Number
		data, ok := up.parts[p.Number]
		if !ok || strings.Trim(p.ETag, `"`) != etag(data) {
			return fmt.Errorf("%w: %d", ErrInvalidPart, p.Number)
		}
		buf.Write(data)
	}

	m.objects[key] = memObject{data: buf.Bytes(), contentType: up.contentType, modified: time.Now()}
	delete(m.uploads, uploadID)
	return nil
}

func (m *MemoryStore) AbortMultipartUpload(_ context.Context, _, uploadID string) error {
	m.mu.Lock()
	delete(m.uploads, uploadID)
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) Put(_ context.Context, key string, body io.Reader, _ int64, contentType string) (int64, error) {
	data, err := io.ReadAll(body)
	if err != nil {
		return 0, err
	}
	m.mu.Lock()
	m.objects[key] = memObject{data: data, contentType: contentType, modified: time.Now()}
	m.mu.Unlock()
	return int64(len(data)), nil
}

func (m *MemoryStore) Get(_ context.Context, key string) (io.ReadCloser, error) {
	m.mu.RLock()
	obj, ok := m.objects[key]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(obj.data)), nil
}

func (m *MemoryStore) Stat(_ context.Context, key string) (ObjectInfo, error) {
	m.mu.RLock()
	obj, ok := m.objects[key]
	m.mu.RUnlock()
	if !ok {
		return ObjectInfo{}, ErrNotFound
	}
	return ObjectInfo{Key: key, Size: int64(len(obj.data)), ContentType: obj.contentType, LastModified: obj.modified}, nil
}

func (m *MemoryStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	delete(m.objects, key)
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) List(_ context.Context, prefix string) ([]ObjectInfo, error) {
	m.mu.RLock()
	var out []ObjectInfo
	for key, obj := range m.objects {
		if strings.HasPrefix(key, prefix) {
			out = append(out, ObjectInfo{Key: key, Size: int64(len(obj.data)), ContentType: obj.contentType, LastModified: obj.modified})
		}
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (m *MemoryStore) Ping(context.Context) error { return nil }

// Bytes returns a copy of the object at key, for tests and debugging.
func (m *MemoryStore) Bytes(key string) ([]byte, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	obj, ok := m.objects[key]
	if !ok {
		return nil, false
	}
	return append([]byte(nil), obj.data...), true
}

func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.objects)
}

func etag(data []byte) string {
	sum := md5.Sum(data)
	return hex.EncodeToString(sum[:])
}
