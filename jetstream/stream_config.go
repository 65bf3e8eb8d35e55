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
	"encoding/json"
	"fmt"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

type (
	// StreamInfo reports a stream's configuration and current state.
	StreamInfo struct {
		Config    StreamConfig `json:"config"`
		Created   time.Time    `json:"created"`
		State     StreamState  `json:"state"`
		TimeStamp time.Time    `json:"ts"`
	}

	// StreamConfig is the configuration of a JetStream stream.
	StreamConfig struct {
		// Name is required and must be unique across the account.
		Name string `json:"name"`

		Description string `json:"description,omitempty"`

		// Subjects is the list of subjects this stream captures.
		Subjects []string `json:"subjects,omitempty"`

		Retention RetentionPolicy `json:"retention"`

		MaxConsumers int   `json:"max_consumers"`
		MaxMsgs      int64 `json:"max_msgs"`
		MaxBytes     int64 `json:"max_bytes"`

		Discard              DiscardPolicy `json:"discard"`
		DiscardNewPerSubject bool          `json:"discard_new_per_subject,omitempty"`

		MaxAge            time.Duration `json:"max_age"`
		MaxMsgsPerSubject int64         `json:"max_msgs_per_subject"`
		MaxMsgSize        int32         `json:"max_msg_size,omitempty"`

		Storage  StorageType `json:"storage"`
		Replicas int         `json:"num_replicas"`

		NoAck      bool          `json:"no_ack,omitempty"`
		Duplicates time.Duration `json:"duplicate_window,omitempty"`

		DenyDelete  bool `json:"deny_delete,omitempty"`
		DenyPurge   bool `json:"deny_purge,omitempty"`
		AllowRollup bool `json:"allow_rollup_hdrs,omitempty"`

		Compression StoreCompression `json:"compression"`

		// AllowDirect enables the direct-get API for individual messages
		// on this stream, bypassing the ordinary consumer path. The
		// object store relies on this being true.
		AllowDirect bool `json:"allow_direct"`

		Metadata map[string]string `json:"metadata,omitempty"`
	}

	// StreamState reports a stream's message and byte counters at the
	// time of the request.
	StreamState struct {
		Msgs        uint64    `json:"messages"`
		Bytes       uint64    `json:"bytes"`
		FirstSeq    uint64    `json:"first_seq"`
		FirstTime   time.Time `json:"first_ts"`
		LastSeq     uint64    `json:"last_seq"`
		LastTime    time.Time `json:"last_ts"`
		Consumers   int       `json:"consumer_count"`
		NumDeleted  int       `json:"num_deleted"`
		NumSubjects uint64    `json:"num_subjects"`

		// Subjects maps subject to message count when the stream was
		// queried with subject-detail requested. The server truncates a
		// single response to roughly 10,000 entries; Stream.Info follows
		// the server's offset paging and returns the merged map.
		Subjects map[string]uint64 `json:"subjects,omitempty"`
	}

	// RetentionPolicy governs how the server decides to remove old
	// messages from a stream.
	RetentionPolicy int

	// DiscardPolicy governs what the server does once a stream reaches
	// its configured limits.
	DiscardPolicy int

	// StorageType is the backing store used to persist stream data.
	StorageType int

	// StoreCompression is the message storage compression algorithm.
	StoreCompression int
)

const (
	LimitsPolicy RetentionPolicy = iota
	InterestPolicy
	WorkQueuePolicy
)

func (rp RetentionPolicy) MarshalJSON() ([]byte, error) {
	switch rp {
	case LimitsPolicy:
		return json.Marshal("limits")
	case InterestPolicy:
		return json.Marshal("interest")
	case WorkQueuePolicy:
		return json.Marshal("workqueue")
	default:
		return nil, fmt.Errorf("nats: unknown retention policy %v", rp)
	}
}

func (rp *RetentionPolicy) UnmarshalJSON(data []byte) error {
	switch string(data) {
	case `"limits"`:
		*rp = LimitsPolicy
	case `"interest"`:
		*rp = InterestPolicy
	case `"workqueue"`:
		*rp = WorkQueuePolicy
	default:
		return fmt.Errorf("nats: unknown retention policy %q", data)
	}
	return nil
}

const (
	DiscardOld DiscardPolicy = iota
	DiscardNew
)

func (dp DiscardPolicy) MarshalJSON() ([]byte, error) {
	switch dp {
	case DiscardOld:
		return json.Marshal("old")
	case DiscardNew:
		return json.Marshal("new")
	default:
		return nil, fmt.Errorf("nats: can not marshal %v", dp)
	}
}

func (dp *DiscardPolicy) UnmarshalJSON(data []byte) error {
	switch string(data) {
	case `"old"`:
		*dp = DiscardOld
	case `"new"`:
		*dp = DiscardNew
	default:
		return fmt.Errorf("nats: can not unmarshal %q", data)
	}
	return nil
}

const (
	FileStorage StorageType = iota
	MemoryStorage
)

const (
	fileStorageString   = "file"
	memoryStorageString = "memory"
)

// String renders the storage type the way the server monitoring
// endpoints do, title-cased via golang.org/x/text rather than a
// hand-rolled ASCII capitalizer.
func (st StorageType) String() string {
	caser := cases.Title(language.AmericanEnglish)
	switch st {
	case MemoryStorage:
		return caser.String(memoryStorageString)
	case FileStorage:
		return caser.String(fileStorageString)
	default:
		return "Unknown Storage Type"
	}
}

func (st StorageType) MarshalJSON() ([]byte, error) {
	switch st {
	case MemoryStorage:
		return json.Marshal(memoryStorageString)
	case FileStorage:
		return json.Marshal(fileStorageString)
	default:
		return nil, fmt.Errorf("nats: can not marshal %v", st)
	}
}

func (st *StorageType) UnmarshalJSON(data []byte) error {
	switch string(data) {
	case `"` + memoryStorageString + `"`:
		*st = MemoryStorage
	case `"` + fileStorageString + `"`:
		*st = FileStorage
	default:
		return fmt.Errorf("nats: can not unmarshal %q", data)
	}
	return nil
}

const (
	NoCompression StoreCompression = iota
	S2Compression
)

func (alg StoreCompression) String() string {
	switch alg {
	case NoCompression:
		return "None"
	case S2Compression:
		return "S2"
	default:
		return "Unknown StoreCompression"
	}
}

func (alg StoreCompression) MarshalJSON() ([]byte, error) {
	switch alg {
	case S2Compression:
		return json.Marshal("s2")
	case NoCompression:
		return json.Marshal("none")
	default:
		return nil, fmt.Errorf("nats: unknown compression algorithm %v", alg)
	}
}

func (alg *StoreCompression) UnmarshalJSON(b []byte) error {
	var str string
	if err := json.Unmarshal(b, &str); err != nil {
		return err
	}
	switch str {
	case "s2":
		*alg = S2Compression
	case "none":
		*alg = NoCompression
	default:
		return fmt.Errorf("nats: unknown compression algorithm %q", str)
	}
	return nil
}
