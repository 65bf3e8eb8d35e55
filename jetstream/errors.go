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
	"errors"
	"fmt"
)

type (
	// JetStreamError is returned for any API-level failure reported by
	// the server. In case of a client-side error, APIError returns nil.
	JetStreamError interface {
		APIError() *APIError
		error
	}

	jsError struct {
		apiErr  *APIError
		message string
	}

	// APIError is the error payload embedded in a JetStream API
	// response when a request could not be completed.
	APIError struct {
		Code        int       `json:"code"`
		ErrorCode   ErrorCode `json:"err_code"`
		Description string    `json:"description,omitempty"`
	}

	// ErrorCode is the JetStream API's numeric error classification,
	// stable across server versions.
	ErrorCode uint16
)

const (
	JSErrCodeJetStreamNotEnabledForAccount ErrorCode = 10039
	JSErrCodeJetStreamNotEnabled           ErrorCode = 10076
	JSErrCodeStreamNotFound                ErrorCode = 10059
	JSErrCodeStreamNameInUse               ErrorCode = 10058
	JSErrCodeMessageNotFound               ErrorCode = 10037
)

func (e *APIError) Error() string {
	return fmt.Sprintf("nats: API error: code=%d err_code=%d description=%s", e.Code, e.ErrorCode, e.Description)
}

func (e *APIError) APIError() *APIError { return e }

func (err *jsError) APIError() *APIError { return err.apiErr }

func (err *jsError) Error() string {
	if err.apiErr != nil && err.apiErr.Description != "" {
		return err.apiErr.Description
	}
	return err.message
}

func (err *jsError) Unwrap() error {
	if err.apiErr == nil {
		return nil
	}
	return err.apiErr
}

// Sentinel errors returned by the stream and object store managers.
var (
	ErrJetStreamNotEnabled            JetStreamError = &jsError{message: "jetstream not enabled"}
	ErrJetStreamNotEnabledForAccount  JetStreamError = &jsError{message: "jetstream not enabled for account"}
	ErrStreamNotFound                 JetStreamError = &jsError{message: "stream not found"}
	ErrStreamNameAlreadyInUse         JetStreamError = &jsError{message: "stream name already in use"}
	ErrMsgNotFound                    JetStreamError = &jsError{message: "message not found"}
	ErrInvalidStreamName              = errors.New("nats: invalid stream name")
	ErrInvalidSubject                 = errors.New("nats: invalid subject")
	ErrObjectNotFound                 = errors.New("nats: object not found")
	ErrObjectAlreadyExists            = errors.New("nats: object already exists")
	ErrObjectDeleted                  = errors.New("nats: object deleted")
	ErrBadObjectMeta                  = errors.New("nats: object meta invalid")
	ErrDigestMismatch                 = errors.New("nats: received a corrupt object, digests do not match")
	ErrNoObjectsFound                 = errors.New("nats: no objects found")
	ErrLinkNotAllowed                 = errors.New("nats: link cannot be set when putting the object in bucket")
	ErrBucketRequired                 = errors.New("nats: bucket name is required")
	ErrBucketMalformed                = errors.New("nats: bucket name is malformed")
	ErrObjectRequired                 = errors.New("nats: object name is required")
	ErrInvalidObjectName              = errors.New("nats: invalid object name")
	ErrNoLinkToDeleted                = errors.New("nats: not allowed to link to a deleted object")
	ErrNoLinkToLink                   = errors.New("nats: not allowed to link to another link")
)

func toJSError(apiErr *APIError) *jsError {
	if apiErr == nil {
		return nil
	}
	switch apiErr.ErrorCode {
	case JSErrCodeJetStreamNotEnabledForAccount:
		return ErrJetStreamNotEnabledForAccount.(*jsError)
	case JSErrCodeJetStreamNotEnabled:
		return ErrJetStreamNotEnabled.(*jsError)
	case JSErrCodeStreamNotFound:
		return ErrStreamNotFound.(*jsError)
	case JSErrCodeStreamNameInUse:
		return ErrStreamNameAlreadyInUse.(*jsError)
	case JSErrCodeMessageNotFound:
		return ErrMsgNotFound.(*jsError)
	}
	return &jsError{apiErr: apiErr}
}
