package objstore

import (
	"errors"
	"fmt"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
)

func TestMapS3Err(t *testing.T) {
	assert.NoError(t, mapS3Err(nil))

	tests := []struct {
		name string
		err  error
		want error
	}{
		{"no such key", &types.NoSuchKey{}, ErrNotFound},
		{"head not found", &types.NotFound{}, ErrNotFound},
		{"no such upload", &types.NoSuchUpload{}, ErrNoSuchUpload},
		{"invalid part", &smithy.GenericAPIError{Code: "InvalidPart"}, ErrInvalidPart},
		{"invalid part order", &smithy.GenericAPIError{Code: "InvalidPartOrder"}, ErrInvalidPart},
		{"entity too small", &smithy.GenericAPIError{Code: "EntityTooSmall"}, ErrInvalidPart},
		{"wrapped by the sdk", fmt.Errorf("operation error S3: GetObject: %w", &types.NoSuchKey{}), ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.True(t, errors.Is(mapS3Err(tt.err), tt.want), "got %v", mapS3Err(tt.err))
		})
	}

	other := &smithy.GenericAPIError{Code: "AccessDenied"}
	got := mapS3Err(other)
	assert.Equal(t, error(other), got)
	assert.False(t, errors.Is(got, ErrNotFound))
}
