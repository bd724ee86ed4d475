package dynamo

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/go-otp-auth/internal/domain"
	"github.com/go-otp-auth/internal/pkg/id"
)

// marker rows enforce email and phone uniqueness and double as a
// strongly consistent lookup index. They live in the users table under
// keys that cannot collide with a ULID.
type marker struct {
	Key     string `dynamodbav:"user_id"`
	OwnerID string `dynamodbav:"owner_id"`
}

func emailMarker(email string) string { return "email#" + email }
func phoneMarker(phone string) string { return "phone#" + phone }

// UserRepo provides typed DynamoDB operations for the users table.
type UserRepo struct {
	client    API
	tableName string
	newID     func() string
}

func NewUserRepo(client API, tableName string) *UserRepo {
	return &UserRepo{client: client, tableName: tableName, newID: id.New}
}

func (r *UserRepo) Get(ctx context.Context, userID string) (*domain.User, error) {
	out, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(r.tableName),
		Key:            strKey(attrUserID, userID),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	if out.Item == nil {
		return nil, fmt.Errorf("user %q: %w", userID, domain.ErrNotFound)
	}
	var u domain.User
	if err := attributevalue.UnmarshalMap(out.Item, &u); err != nil {
		return nil, fmt.Errorf("unmarshal user: %w", err)
	}
	return &u, nil
}

func (r *UserRepo) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	return r.byMarker(ctx, emailMarker(email))
}

func (r *UserRepo) GetByPhone(ctx context.Context, phone string) (*domain.User, error) {
	return r.byMarker(ctx, phoneMarker(phone))
}

// Create writes the user and its markers in one transaction. A marker that
// already exists cancels the whole write with domain.ErrConflict.
func (r *UserRepo) Create(ctx context.Context, u *domain.User) error {
	row := *u
	row.ID = r.newID()
	item, err := attributevalue.MarshalMap(&row)
	if err != nil {
		return fmt.Errorf("marshal user: %w", err)
	}

	writes := []types.TransactWriteItem{r.putIfAbsent(item)}
	for _, key := range markerKeys(u) {
		m, err := attributevalue.MarshalMap(marker{Key: key, OwnerID: row.ID})
		if err != nil {
			return fmt.Errorf("marshal marker: %w", err)
		}
		writes = append(writes, r.putIfAbsent(m))
	}

	if _, err := r.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{TransactItems: writes}); err != nil {
		return asConflict(err, "create user")
	}
	u.ID = row.ID
	return nil
}

func (r *UserRepo) putIfAbsent(item map[string]types.AttributeValue) types.TransactWriteItem {
	return types.TransactWriteItem{
		Put: &types.Put{
			TableName:                aws.String(r.tableName),
			Item:                     item,
			ConditionExpression:      aws.String("attribute_not_exists(#k)"),
			ExpressionAttributeNames: map[string]string{"#k": attrUserID},
		},
	}
}

func (r *UserRepo) byMarker(ctx context.Context, key string) (*domain.User, error) {
	out, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(r.tableName),
		Key:            strKey(attrUserID, key),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("get marker: %w", err)
	}
	if out.Item == nil {
		return nil, fmt.Errorf("user %q: %w", key, domain.ErrNotFound)
	}
	var m marker
	if err := attributevalue.UnmarshalMap(out.Item, &m); err != nil {
		return nil, fmt.Errorf("unmarshal marker: %w", err)
	}
	return r.Get(ctx, m.OwnerID)
}

func markerKeys(u *domain.User) []string {
	var keys []string
	if u.Email != nil {
		keys = append(keys, emailMarker(*u.Email))
	}
	if u.Phone != nil {
		keys = append(keys, phoneMarker(*u.Phone))
	}
	return keys
}
