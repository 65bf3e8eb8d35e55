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
	"time"

	natsws "github.com/nats-io/nats-ws.go"
)

// ObjectStoreConfig is the configuration for an object store bucket,
// which is backed by a single stream named OBJ_<bucket>.
type ObjectStoreConfig struct {
	// Bucket is the name of the object store. It must be unique and may
	// contain only alphanumeric characters, dashes, and underscores.
	Bucket string `json:"bucket"`

	Description string `json:"description,omitempty"`

	// TTL is the maximum age of an object. Objects do not expire by
	// default.
	TTL time.Duration `json:"max_age,omitempty"`

	// MaxBytes is the maximum size of the bucket. Unlimited if unset.
	MaxBytes int64 `json:"max_bytes,omitempty"`

	Storage StorageType `json:"storage,omitempty"`

	Replicas int `json:"num_replicas,omitempty"`

	// Compression enables S2 compression of the underlying stream.
	Compression bool `json:"compression,omitempty"`

	Metadata map[string]string `json:"metadata,omitempty"`
}

// ObjectMetaOptions carries additional creation-time options for an
// object.
type ObjectMetaOptions struct {
	// Link should not be set directly; it is populated by AddLink and
	// AddBucketLink.
	Link *ObjectLink `json:"link,omitempty"`

	// ChunkSize is the maximum size of each chunk, in bytes. Defaults
	// to 128KiB.
	ChunkSize uint32 `json:"max_chunk_size,omitempty"`
}

// ObjectMeta is the user-supplied description of an object, stored
// alongside the server-computed fields in ObjectInfo.
type ObjectMeta struct {
	// Name uniquely identifies the object within its bucket.
	Name string `json:"name"`

	Description string `json:"description,omitempty"`

	// Headers are stored verbatim and returned unchanged from Get.
	Headers natsws.Header `json:"headers,omitempty"`

	Metadata map[string]string `json:"metadata,omitempty"`

	Opts *ObjectMetaOptions `json:"options,omitempty"`
}

// ObjectLink points at another object, or at an entire bucket, from a
// link object created with AddLink or AddBucketLink.
type ObjectLink struct {
	Bucket string `json:"bucket"`

	// Name is empty when the link refers to the bucket as a whole.
	Name string `json:"name,omitempty"`
}

// ObjectInfo is the metadata record the server stores for each object,
// keyed on the base64url encoding of its name.
type ObjectInfo struct {
	ObjectMeta

	Bucket string `json:"bucket"`

	// NUID identifies the chunk subject this revision of the object
	// was written under. A Put of the same name allocates a fresh NUID
	// so a reader mid-Get on the old revision is never handed a mix of
	// old and new chunks.
	NUID string `json:"nuid"`

	Size uint64 `json:"size"`

	ModTime time.Time `json:"mtime"`

	Chunks uint32 `json:"chunks"`

	// Digest is "SHA-256=<standard base64>", matching the AWS-style
	// digest header format the server uses elsewhere.
	Digest string `json:"digest,omitempty"`

	Deleted bool `json:"deleted,omitempty"`
}

func (info *ObjectInfo) isLink() bool {
	return info.Opts != nil && info.Opts.Link != nil
}

type getObjectOpts struct {
	showDeleted bool
}

// GetObjectOpt configures ObjectStore.Get.
type GetObjectOpt func(*getObjectOpts) error

// GetObjectShowDeleted makes Get return an object even if it has been
// marked deleted.
func GetObjectShowDeleted() GetObjectOpt {
	return func(o *getObjectOpts) error {
		o.showDeleted = true
		return nil
	}
}

type getObjectInfoOpts struct {
	showDeleted bool
}

// GetObjectInfoOpt configures ObjectStore.GetInfo.
type GetObjectInfoOpt func(*getObjectInfoOpts) error

// GetObjectInfoShowDeleted makes GetInfo return the metadata of a
// deleted object instead of ErrObjectNotFound.
func GetObjectInfoShowDeleted() GetObjectInfoOpt {
	return func(o *getObjectInfoOpts) error {
		o.showDeleted = true
		return nil
	}
}

type listObjectOpts struct {
	showDeleted bool
}

// ListObjectsOpt configures ObjectStore.List.
type ListObjectsOpt func(*listObjectOpts) error

// ListObjectsShowDeleted makes List include deleted objects.
func ListObjectsShowDeleted() ListObjectsOpt {
	return func(o *listObjectOpts) error {
		o.showDeleted = true
		return nil
	}
}

type putObjectOpts struct {
	chunkSize   uint32
	description string
	metadata    map[string]string
}

// PutObjectOpt configures ObjectStore.Put.
type PutObjectOpt func(*putObjectOpts) error

// WithObjectChunkSize overrides the default 128KiB chunk size used to
// split the object across stream messages.
func WithObjectChunkSize(size uint32) PutObjectOpt {
	return func(o *putObjectOpts) error {
		o.chunkSize = size
		return nil
	}
}

// WithObjectDescription attaches a description to the object being
// put.
func WithObjectDescription(description string) PutObjectOpt {
	return func(o *putObjectOpts) error {
		o.description = description
		return nil
	}
}

// WithObjectMetadata attaches user-supplied metadata to the object
// being put.
func WithObjectMetadata(metadata map[string]string) PutObjectOpt {
	return func(o *putObjectOpts) error {
		o.metadata = metadata
		return nil
	}
}
