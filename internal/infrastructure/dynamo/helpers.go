package dynamo

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/go-otp-auth/internal/domain"
)

// Attribute names shared by the stores and Bootstrap.
const (
	attrIdentifier = "identifier"
	attrUserID     = "user_id"
	attrVersion    = "version"
	attrExpiresAt  = "expires_at"
	attrTTL        = "ttl"
)

// ttlGrace keeps lapsed records readable past their logical expiry, so an
// expired code reads as expired rather than missing. DynamoDB TTL deletion
// is itself lazy and may lag further.
const ttlGrace = 24 * time.Hour

// strKey builds a DynamoDB primary key map with a single string attribute.
func strKey(name, value string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		name: &types.AttributeValueMemberS{Value: value},
	}
}

func numValue(n int64) types.AttributeValue {
	return &types.AttributeValueMemberN{Value: strconv.FormatInt(n, 10)}
}

// asConflict maps a failed condition or cancelled transaction to domain.ErrConflict.
func asConflict(err error, what string) error {
	var ccf *types.ConditionalCheckFailedException
	var tce *types.TransactionCanceledException
	if errors.As(err, &ccf) || errors.As(err, &tce) {
		return fmt.Errorf("%s: %w", what, domain.ErrConflict)
	}
	return fmt.Errorf("%s: %w", what, err)
}

func toUnixNano(t time.Time) int64 { return t.UnixNano() }

func fromUnixNano(n int64) time.Time { return time.Unix(0, n).UTC() }
