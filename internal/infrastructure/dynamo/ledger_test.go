package dynamo

import (
	"context"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/go-otp-auth/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func TestLedgerStore_GetOTP_NotFound(t *testing.T) {
	api := &mockAPI{}
	api.On("GetItem", mock.Anything, mock.Anything).Return(&dynamodb.GetItemOutput{}, nil)
	s := NewLedgerStore(api, "otps", "blocks")

	_, err := s.GetOTP(context.Background(), "a@b.com")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestLedgerStore_PutThenGetOTP(t *testing.T) {
	api := &mockAPI{}
	s := NewLedgerStore(api, "otps", "blocks")
	rec := &domain.OTPRecord{Identifier: "a@b.com", CodeHash: "hash", IssuedAt: t0, ExpiresAt: t0.Add(10 * time.Minute)}

	var stored map[string]types.AttributeValue
	api.On("PutItem", mock.Anything, mock.MatchedBy(func(in *dynamodb.PutItemInput) bool {
		return aws.ToString(in.TableName) == "otps" && in.ConditionExpression == nil
	})).Run(func(args mock.Arguments) {
		stored = args.Get(1).(*dynamodb.PutItemInput).Item
	}).Return(&dynamodb.PutItemOutput{}, nil)
	require.NoError(t, s.PutOTP(context.Background(), rec))

	var it otpItem
	require.NoError(t, attributevalue.UnmarshalMap(stored, &it))
	assert.Equal(t, rec.ExpiresAt.Add(24*time.Hour).Unix(), it.TTL)

	api.On("GetItem", mock.Anything, mock.MatchedBy(func(in *dynamodb.GetItemInput) bool {
		return aws.ToBool(in.ConsistentRead)
	})).Return(&dynamodb.GetItemOutput{Item: stored}, nil)
	got, err := s.GetOTP(context.Background(), "a@b.com")
	require.NoError(t, err)
	assert.Equal(t, "hash", got.CodeHash)
	assert.True(t, got.ExpiresAt.Equal(rec.ExpiresAt))
	assert.True(t, got.IssuedAt.Equal(rec.IssuedAt))
	api.AssertExpectations(t)
}

func TestLedgerStore_CompareAndSwapBlock_Create(t *testing.T) {
	api := &mockAPI{}
	api.On("PutItem", mock.Anything, mock.MatchedBy(func(in *dynamodb.PutItemInput) bool {
		return aws.ToString(in.ConditionExpression) == "attribute_not_exists(#id)" &&
			in.ExpressionAttributeNames["#id"] == "identifier"
	})).Return(&dynamodb.PutItemOutput{}, nil)
	s := NewLedgerStore(api, "otps", "blocks")

	next := &domain.BlockRecord{Identifier: "a@b.com", FailedAttempts: 1}
	require.NoError(t, s.CompareAndSwapBlock(context.Background(), 0, next))
	assert.Equal(t, int64(1), next.Version)
	api.AssertExpectations(t)
}

func TestLedgerStore_CompareAndSwapBlock_VersionCondition(t *testing.T) {
	api := &mockAPI{}
	var it blockItem
	api.On("PutItem", mock.Anything, mock.MatchedBy(func(in *dynamodb.PutItemInput) bool {
		v, ok := in.ExpressionAttributeValues[":expected"].(*types.AttributeValueMemberN)
		return aws.ToString(in.ConditionExpression) == "#v = :expected" && ok && v.Value == "2"
	})).Run(func(args mock.Arguments) {
		_ = attributevalue.UnmarshalMap(args.Get(1).(*dynamodb.PutItemInput).Item, &it)
	}).Return(&dynamodb.PutItemOutput{}, nil)
	s := NewLedgerStore(api, "otps", "blocks")

	until := t0.Add(10 * time.Minute)
	next := &domain.BlockRecord{Identifier: "a@b.com", FailedAttempts: 3, BlockExpiresAt: &until}
	require.NoError(t, s.CompareAndSwapBlock(context.Background(), 2, next))
	assert.Equal(t, int64(3), next.Version)
	assert.Equal(t, int64(3), it.Version)
	require.NotNil(t, it.BlockExpiresAt)
	assert.Equal(t, until.UnixNano(), *it.BlockExpiresAt)
	assert.Equal(t, until.Add(24*time.Hour).Unix(), it.TTL)
}

func TestLedgerStore_CompareAndSwapBlock_Conflict(t *testing.T) {
	api := &mockAPI{}
	api.On("PutItem", mock.Anything, mock.Anything).
		Return(nil, &types.ConditionalCheckFailedException{Message: aws.String("version moved")})
	s := NewLedgerStore(api, "otps", "blocks")

	next := &domain.BlockRecord{Identifier: "a@b.com", FailedAttempts: 2}
	err := s.CompareAndSwapBlock(context.Background(), 1, next)
	assert.ErrorIs(t, err, domain.ErrConflict)
	assert.Equal(t, int64(0), next.Version)
}

func TestLedgerStore_GetBlock(t *testing.T) {
	until := t0.Add(5 * time.Minute).UnixNano()
	item, err := attributevalue.MarshalMap(blockItem{Identifier: "a@b.com", FailedAttempts: 3, BlockExpiresAt: &until, Version: 4})
	require.NoError(t, err)

	api := &mockAPI{}
	api.On("GetItem", mock.Anything, mock.MatchedBy(func(in *dynamodb.GetItemInput) bool {
		return aws.ToString(in.TableName) == "blocks"
	})).Return(&dynamodb.GetItemOutput{Item: item}, nil)
	s := NewLedgerStore(api, "otps", "blocks")

	b, err := s.GetBlock(context.Background(), "a@b.com")
	require.NoError(t, err)
	assert.Equal(t, 3, b.FailedAttempts)
	assert.Equal(t, int64(4), b.Version)
	require.NotNil(t, b.BlockExpiresAt)
	assert.True(t, b.Blocked(t0))
}

func TestLedgerStore_DeleteExpiredOTPs(t *testing.T) {
	api := &mockAPI{}
	page1 := &dynamodb.ScanOutput{
		Items:            []map[string]types.AttributeValue{strKey("identifier", "a"), strKey("identifier", "b")},
		LastEvaluatedKey: strKey("identifier", "b"),
	}
	page2 := &dynamodb.ScanOutput{Items: []map[string]types.AttributeValue{strKey("identifier", "c")}}
	api.On("Scan", mock.Anything, mock.MatchedBy(func(in *dynamodb.ScanInput) bool { return in.ExclusiveStartKey == nil })).Return(page1, nil).Once()
	api.On("Scan", mock.Anything, mock.MatchedBy(func(in *dynamodb.ScanInput) bool { return in.ExclusiveStartKey != nil })).Return(page2, nil).Once()

	keyIs := func(id string) interface{} {
		return mock.MatchedBy(func(in *dynamodb.DeleteItemInput) bool {
			v, ok := in.Key["identifier"].(*types.AttributeValueMemberS)
			return ok && v.Value == id && in.ConditionExpression != nil
		})
	}
	api.On("DeleteItem", mock.Anything, keyIs("a")).Return(&dynamodb.DeleteItemOutput{}, nil)
	// b was re-issued between scan and delete
	api.On("DeleteItem", mock.Anything, keyIs("b")).Return(nil, &types.ConditionalCheckFailedException{Message: aws.String("fresh")})
	api.On("DeleteItem", mock.Anything, keyIs("c")).Return(&dynamodb.DeleteItemOutput{}, nil)

	s := NewLedgerStore(api, "otps", "blocks")
	n, err := s.DeleteExpiredOTPs(context.Background(), t0)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	api.AssertExpectations(t)
}
