// Copyright 2022-2024 The NATS Authors
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package jetstream

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"regexp"
	"time"

	natsws "github.com/nats-io/nats-ws.go"
	"github.com/nats-io/nats-ws.go/internal/nuid"
)

const (
	objNameTmpl         = "OBJ_%s"     // OBJ_<bucket>, stream name
	objAllChunksPreTmpl = "$O.%s.C.>"  // $O.<bucket>.C.>, chunk stream subject filter
	objAllMetaPreTmpl   = "$O.%s.M.>"  // $O.<bucket>.M.>, meta stream subject filter
	objChunksPreTmpl    = "$O.%s.C.%s" // $O.<bucket>.C.<nuid>, chunk message subject
	objMetaPreTmpl      = "$O.%s.M.%s" // $O.<bucket>.M.<base64url(name)>, meta message subject

	objDefaultChunkSize = uint32(128 * 1024)
	objDigestType       = "SHA-256="
)

var validBucketRe = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

var objNuid = nuid.New()

// ObjectStore is a handle to an object store bucket, backed by a
// stream named OBJ_<bucket> with a chunk subject and a metadata
// subject per ADR-20.
type ObjectStore struct {
	js     *JetStream
	name   string
	stream *Stream
}

// CreateObjectStore creates a bucket and returns a handle to it,
// failing with ErrStreamNameAlreadyInUse if a stream by that name
// already exists with an incompatible configuration.
func (js *JetStream) CreateObjectStore(ctx context.Context, cfg ObjectStoreConfig) (*ObjectStore, error) {
	scfg, err := objectStreamConfig(cfg)
	if err != nil {
		return nil, err
	}
	stream, err := js.CreateStream(ctx, scfg)
	if err != nil {
		return nil, err
	}
	return &ObjectStore{js: js, name: cfg.Bucket, stream: stream}, nil
}

// ObjectStore looks up an existing bucket by name.
func (js *JetStream) ObjectStore(ctx context.Context, bucket string) (*ObjectStore, error) {
	if !validBucketRe.MatchString(bucket) {
		return nil, ErrBucketMalformed
	}
	stream, err := js.Stream(ctx, fmt.Sprintf(objNameTmpl, bucket))
	if err != nil {
		if errors.Is(err, ErrStreamNotFound) {
			return nil, fmt.Errorf("nats: object store bucket %q not found: %w", bucket, err)
		}
		return nil, err
	}
	return &ObjectStore{js: js, name: bucket, stream: stream}, nil
}

// CreateOrUpdateObjectStore returns the existing bucket if one exists,
// otherwise creates it.
func (js *JetStream) CreateOrUpdateObjectStore(ctx context.Context, cfg ObjectStoreConfig) (*ObjectStore, error) {
	obs, err := js.ObjectStore(ctx, cfg.Bucket)
	if err == nil {
		return obs, nil
	}
	return js.CreateObjectStore(ctx, cfg)
}

// DeleteObjectStore deletes the bucket's backing stream and everything
// in it.
func (js *JetStream) DeleteObjectStore(ctx context.Context, bucket string) error {
	return js.DeleteStream(ctx, fmt.Sprintf(objNameTmpl, bucket))
}

func objectStreamConfig(cfg ObjectStoreConfig) (StreamConfig, error) {
	if !validBucketRe.MatchString(cfg.Bucket) {
		return StreamConfig{}, ErrBucketMalformed
	}
	replicas := cfg.Replicas
	if replicas == 0 {
		replicas = 1
	}
	maxBytes := cfg.MaxBytes
	if maxBytes == 0 {
		maxBytes = -1
	}
	compression := NoCompression
	if cfg.Compression {
		compression = S2Compression
	}
	return StreamConfig{
		Name:              fmt.Sprintf(objNameTmpl, cfg.Bucket),
		Description:       cfg.Description,
		Subjects:          []string{fmt.Sprintf(objAllChunksPreTmpl, cfg.Bucket), fmt.Sprintf(objAllMetaPreTmpl, cfg.Bucket)},
		Retention:         LimitsPolicy,
		Discard:           DiscardNew,
		MaxAge:            cfg.TTL,
		MaxBytes:          maxBytes,
		MaxMsgsPerSubject: 1,
		Storage:           cfg.Storage,
		Replicas:          replicas,
		AllowRollup:       true,
		AllowDirect:       true,
		Compression:       compression,
		Metadata:          cfg.Metadata,
	}, nil
}

// Name returns the bucket's name.
func (obs *ObjectStore) Name() string { return obs.name }

func (obs *ObjectStore) metaSubject(name string) string {
	return fmt.Sprintf(objMetaPreTmpl, obs.name, base64.URLEncoding.EncodeToString([]byte(name)))
}

func (obs *ObjectStore) chunkSubject(objNUID string) string {
	return fmt.Sprintf(objChunksPreTmpl, obs.name, objNUID)
}

// Put reads r to completion, splitting it into chunks of at most
// meta.Opts.ChunkSize bytes (128KiB by default), publishing each chunk
// to the bucket's chunk subject and, on success, a metadata record
// under a rollup header so only the newest revision of meta.Name is
// visible.
func (obs *ObjectStore) Put(ctx context.Context, meta ObjectMeta, r io.Reader, opts ...PutObjectOpt) (*ObjectInfo, error) {
	if meta.Name == "" {
		return nil, ErrObjectRequired
	}
	var o putObjectOpts
	for _, opt := range opts {
		if err := opt(&o); err != nil {
			return nil, err
		}
	}
	if meta.Opts == nil {
		meta.Opts = &ObjectMetaOptions{}
	}
	if meta.Opts.Link != nil {
		return nil, ErrLinkNotAllowed
	}
	chunkSize := meta.Opts.ChunkSize
	if chunkSize == 0 {
		chunkSize = o.chunkSize
	}
	if chunkSize == 0 {
		chunkSize = objDefaultChunkSize
	}
	meta.Opts.ChunkSize = chunkSize
	if o.description != "" {
		meta.Description = o.description
	}
	if o.metadata != nil {
		meta.Metadata = o.metadata
	}

	// A fresh NUID means a reader mid-Get on the previous revision
	// never observes a mix of old and new chunks.
	objNUID := objNuid.Next()
	chunkSubj := obs.chunkSubject(objNUID)

	digest := sha256.New()
	buf := make([]byte, chunkSize)
	var size uint64
	var chunks uint32

	purgePartial := func() {
		_ = obs.stream.Purge(ctx, WithPurgeSubject(chunkSubj))
	}

	for {
		n, readErr := io.ReadFull(r, buf)
		if readErr != nil && readErr != io.EOF && readErr != io.ErrUnexpectedEOF {
			purgePartial()
			return nil, readErr
		}
		if n > 0 {
			digest.Write(buf[:n])
			if _, err := obs.js.Publish(ctx, chunkSubj, buf[:n]); err != nil {
				purgePartial()
				return nil, err
			}
			size += uint64(n)
			chunks++
		}
		if readErr == io.EOF || readErr == io.ErrUnexpectedEOF {
			break
		}
	}

	info := &ObjectInfo{
		ObjectMeta: meta,
		Bucket:     obs.name,
		NUID:       objNUID,
		Size:       size,
		Chunks:     chunks,
		Digest:     fmt.Sprintf(objDigestType+"%s", base64.StdEncoding.EncodeToString(digest.Sum(nil))),
	}
	if err := obs.publishMeta(ctx, info); err != nil {
		purgePartial()
		return nil, err
	}
	info.ModTime = time.Now().UTC()
	return info, nil
}

func (obs *ObjectStore) publishMeta(ctx context.Context, info *ObjectInfo) error {
	data, err := json.Marshal(info)
	if err != nil {
		return err
	}
	m := &natsws.Msg{
		Subject: obs.metaSubject(info.Name),
		Data:    data,
		Header:  natsws.Header{MsgRollupHeader: []string{MsgRollupSubject}},
	}
	_, err = obs.js.PublishMsg(ctx, m)
	return err
}

// GetInfo fetches the current metadata record for name, without
// reading the object's chunks.
func (obs *ObjectStore) GetInfo(ctx context.Context, name string, opts ...GetObjectInfoOpt) (*ObjectInfo, error) {
	if name == "" {
		return nil, ErrObjectRequired
	}
	var o getObjectInfoOpts
	for _, opt := range opts {
		if err := opt(&o); err != nil {
			return nil, err
		}
	}
	m, err := obs.stream.GetLastMsgForSubject(ctx, obs.metaSubject(name))
	if err != nil {
		if errors.Is(err, ErrMsgNotFound) {
			return nil, ErrObjectNotFound
		}
		return nil, err
	}
	var info ObjectInfo
	if err := json.Unmarshal(m.Data, &info); err != nil {
		return nil, ErrBadObjectMeta
	}
	if info.Deleted && !o.showDeleted {
		return nil, ErrObjectNotFound
	}
	info.ModTime = m.Time
	return &info, nil
}

// Exists reports whether name currently resolves to a non-deleted
// object.
func (obs *ObjectStore) Exists(ctx context.Context, name string) (bool, error) {
	_, err := obs.GetInfo(ctx, name)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, ErrObjectNotFound) {
		return false, nil
	}
	return false, err
}

// Get retrieves the metadata and full contents of name, walking its
// chunks in stream-sequence order via the direct-get API and verifying
// the accumulated SHA-256 digest against the metadata before
// returning.
func (obs *ObjectStore) Get(ctx context.Context, name string, opts ...GetObjectOpt) (*ObjectInfo, []byte, error) {
	var o getObjectOpts
	for _, opt := range opts {
		if err := opt(&o); err != nil {
			return nil, nil, err
		}
	}
	infoOpts := []GetObjectInfoOpt{}
	if o.showDeleted {
		infoOpts = append(infoOpts, GetObjectInfoShowDeleted())
	}
	info, err := obs.GetInfo(ctx, name, infoOpts...)
	if err != nil {
		return nil, nil, err
	}

	if info.isLink() {
		link := info.Opts.Link
		if link.Name == "" {
			return nil, nil, ErrBucketRequired
		}
		target := obs
		if link.Bucket != obs.name {
			target, err = obs.js.ObjectStore(ctx, link.Bucket)
			if err != nil {
				return nil, nil, err
			}
		}
		tinfo, err := target.GetInfo(ctx, link.Name)
		if err != nil {
			return nil, nil, err
		}
		if tinfo.isLink() {
			return nil, nil, ErrNoLinkToLink
		}
		return target.Get(ctx, link.Name)
	}

	if info.Chunks == 0 {
		return info, nil, nil
	}

	chunkSubj := obs.chunkSubject(info.NUID)
	digest := sha256.New()
	data := make([]byte, 0, info.Size)

	var seq uint64
	for i := uint32(0); i < info.Chunks; i++ {
		raw, err := obs.stream.GetNextMsgForSubject(ctx, chunkSubj, seq)
		if err != nil {
			if errors.Is(err, ErrMsgNotFound) {
				return nil, nil, fmt.Errorf("nats: missing chunk for object %q: %w", name, err)
			}
			return nil, nil, err
		}
		digest.Write(raw.Data)
		data = append(data, raw.Data...)
		seq = raw.Sequence + 1
	}

	sum := fmt.Sprintf(objDigestType+"%s", base64.StdEncoding.EncodeToString(digest.Sum(nil)))
	if info.Digest != "" && sum != info.Digest {
		return nil, nil, ErrDigestMismatch
	}
	return info, data, nil
}

// Delete marks name as deleted -- masking it from GetInfo, Get, and
// List unless the caller asks to see deleted entries -- and then
// best-effort purges its chunks.
func (obs *ObjectStore) Delete(ctx context.Context, name string) error {
	info, err := obs.GetInfo(ctx, name, GetObjectInfoShowDeleted())
	if err != nil {
		return err
	}
	if info.Deleted {
		return nil
	}
	chunkSubj := obs.chunkSubject(info.NUID)
	info.Deleted = true
	info.Size, info.Chunks, info.Digest = 0, 0, ""
	if err := obs.publishMeta(ctx, info); err != nil {
		return err
	}
	return obs.stream.Purge(ctx, WithPurgeSubject(chunkSubj))
}

// UpdateMeta rewrites the description, headers, and metadata of name
// without touching its chunks. Renaming (changing ObjectMeta.Name)
// publishes the record under the new name and tombstones the old one.
func (obs *ObjectStore) UpdateMeta(ctx context.Context, name string, meta ObjectMeta) error {
	info, err := obs.GetInfo(ctx, name)
	if err != nil {
		return err
	}
	if meta.Name == "" {
		meta.Name = name
	}
	renamed := meta.Name != name
	if renamed {
		if _, err := obs.GetInfo(ctx, meta.Name); err == nil {
			return ErrObjectAlreadyExists
		} else if !errors.Is(err, ErrObjectNotFound) {
			return err
		}
	}
	updated := *info
	updated.ObjectMeta = meta
	if updated.Opts == nil {
		updated.Opts = info.Opts
	}
	if err := obs.publishMeta(ctx, &updated); err != nil {
		return err
	}
	if renamed {
		old := *info
		old.Deleted = true
		old.Size, old.Chunks, old.Digest = 0, 0, ""
		return obs.publishMeta(ctx, &old)
	}
	return nil
}

// AddLink creates linkName as a pointer at target within this bucket.
// target must not itself be deleted or a link.
func (obs *ObjectStore) AddLink(ctx context.Context, linkName string, target *ObjectInfo) (*ObjectInfo, error) {
	if linkName == "" {
		return nil, ErrObjectRequired
	}
	if target == nil || target.Name == "" {
		return nil, ErrObjectRequired
	}
	if target.Deleted {
		return nil, ErrNoLinkToDeleted
	}
	if target.isLink() {
		return nil, ErrNoLinkToLink
	}
	info := &ObjectInfo{
		ObjectMeta: ObjectMeta{
			Name: linkName,
			Opts: &ObjectMetaOptions{Link: &ObjectLink{Bucket: target.Bucket, Name: target.Name}},
		},
		Bucket: obs.name,
		NUID:   objNuid.Next(),
	}
	if err := obs.publishMeta(ctx, info); err != nil {
		return nil, err
	}
	info.ModTime = time.Now().UTC()
	return info, nil
}

// AddBucketLink creates linkName as a pointer at the whole of bucket,
// rather than at a single object within it.
func (obs *ObjectStore) AddBucketLink(ctx context.Context, linkName string, bucket *ObjectStore) (*ObjectInfo, error) {
	if linkName == "" {
		return nil, ErrObjectRequired
	}
	if bucket == nil {
		return nil, ErrBucketRequired
	}
	info := &ObjectInfo{
		ObjectMeta: ObjectMeta{
			Name: linkName,
			Opts: &ObjectMetaOptions{Link: &ObjectLink{Bucket: bucket.name}},
		},
		Bucket: obs.name,
		NUID:   objNuid.Next(),
	}
	if err := obs.publishMeta(ctx, info); err != nil {
		return nil, err
	}
	info.ModTime = time.Now().UTC()
	return info, nil
}

// List returns every object's metadata in the bucket. Concurrent Puts
// or Deletes during a List may produce a view that is consistent but
// stale for some entries; this is not guarded against.
func (obs *ObjectStore) List(ctx context.Context, opts ...ListObjectsOpt) ([]*ObjectInfo, error) {
	var o listObjectOpts
	for _, opt := range opts {
		if err := opt(&o); err != nil {
			return nil, err
		}
	}
	info, err := obs.stream.fetchInfo(ctx, fmt.Sprintf(objAllMetaPreTmpl, obs.name))
	if err != nil {
		return nil, err
	}
	var objs []*ObjectInfo
	for subj := range info.State.Subjects {
		m, err := obs.stream.GetLastMsgForSubject(ctx, subj)
		if err != nil {
			if errors.Is(err, ErrMsgNotFound) {
				continue
			}
			return nil, err
		}
		var oi ObjectInfo
		if err := json.Unmarshal(m.Data, &oi); err != nil {
			continue
		}
		if oi.Deleted && !o.showDeleted {
			continue
		}
		oi.ModTime = m.Time
		objs = append(objs, &oi)
	}
	if len(objs) == 0 {
		return nil, ErrNoObjectsFound
	}
	return objs, nil
}

// ObjectStoreStatus reports run-time status about a bucket, projected
// from the backing stream's StreamInfo.
type ObjectStoreStatus struct {
	Bucket      string
	Description string
	TTL         time.Duration
	Storage     StorageType
	Replicas    int
	Size        uint64
	Metadata    map[string]string
}

// Status fetches the bucket's current status from its backing stream.
func (obs *ObjectStore) Status(ctx context.Context) (*ObjectStoreStatus, error) {
	info, err := obs.stream.Info(ctx)
	if err != nil {
		return nil, err
	}
	return &ObjectStoreStatus{
		Bucket:      obs.name,
		Description: info.Config.Description,
		TTL:         info.Config.MaxAge,
		Storage:     info.Config.Storage,
		Replicas:    info.Config.Replicas,
		Size:        info.State.Bytes,
		Metadata:    info.Config.Metadata,
	}, nil
}
