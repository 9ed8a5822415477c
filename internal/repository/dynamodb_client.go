// Package repository is the DynamoDB logstore.Backend. Each daily log is one
// item under a shared partition key, and the version token is the SHA-256 of
// the canonical (RFC 8785) JSON content.
package repository

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/gowebpki/jcs"

	"tutor-agent/internal/domain"
	"tutor-agent/internal/logstore"
)

const (
	pkPrefix    = "LOG#"
	skPrefixDay = "DAY#"
)

// dynamodbAPI is the minimal DynamoDB interface required by Client.
// Defined here for testability.
type dynamodbAPI interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	Query(ctx context.Context, in *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
}

// Client wraps a DynamoDB table holding daily logs.
type Client struct {
	api       dynamodbAPI
	tableName string
	prefix    string
	now       func() time.Time
}

type Option func(*Client)

// WithPrefix namespaces the logs, so several deployments can share a table.
func WithPrefix(prefix string) Option {
	return func(c *Client) {
		c.prefix = strings.TrimSpace(prefix)
	}
}

func WithClock(now func() time.Time) Option {
	return func(c *Client) {
		if now != nil {
			c.now = now
		}
	}
}

// New creates a new repository Client.
func New(api dynamodbAPI, tableName string, opts ...Option) (*Client, error) {
	if api == nil {
		return nil, errors.New("repository: api must not be nil")
	}
	if strings.TrimSpace(tableName) == "" {
		return nil, errors.New("repository: table name must not be empty")
	}
	c := &Client{api: api, tableName: tableName, prefix: "daily-chats", now: time.Now}
	for _, opt := range opts {
		opt(c)
	}
	if c.prefix == "" {
		return nil, errors.New("repository: prefix must not be empty")
	}
	return c, nil
}

func (c *Client) logPK() string {
	return pkPrefix + c.prefix
}

func daySK(date string) string {
	return skPrefixDay + date
}

func (c *Client) key(date string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK": &types.AttributeValueMemberS{Value: c.logPK()},
		"SK": &types.AttributeValueMemberS{Value: daySK(date)},
	}
}

// ContentVersion returns the version token stored alongside content.
func ContentVersion(content []byte) (string, error) {
	canonical, err := jcs.Transform(content)
	if err != nil {
		return "", fmt.Errorf("repository: canonicalize content: %w", err)
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}

// Get reads one daily log with a strongly consistent read.
func (c *Client) Get(ctx context.Context, date string) (logstore.Blob, error) {
	out, err := c.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(c.tableName),
		Key:            c.key(date),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return logstore.Blob{}, fmt.Errorf("repository: Get %s: %w", date, err)
	}
	if out == nil || len(out.Item) == 0 {
		return logstore.Blob{}, domain.ErrNotFound
	}

	version, err := strAttr(out.Item, "version")
	if err != nil {
		return logstore.Blob{}, &domain.ContentParseError{Source: "dynamodb item " + date, Err: err}
	}
	content, err := strAttr(out.Item, "content")
	if err != nil {
		return logstore.Blob{Version: version}, &domain.ContentParseError{Source: "dynamodb item " + date, Err: err}
	}
	return logstore.Blob{Content: []byte(content), Version: version}, nil
}

// Put writes a daily log conditionally: an empty version requires the item to
// be absent, otherwise the stored version must equal it.
func (c *Client) Put(ctx context.Context, date string, content []byte, version string) error {
	next, err := ContentVersion(content)
	if err != nil {
		return err
	}
	in := &dynamodb.PutItemInput{
		TableName: aws.String(c.tableName),
		Item: map[string]types.AttributeValue{
			"PK":        &types.AttributeValueMemberS{Value: c.logPK()},
			"SK":        &types.AttributeValueMemberS{Value: daySK(date)},
			"date":      &types.AttributeValueMemberS{Value: date},
			"content":   &types.AttributeValueMemberS{Value: string(content)},
			"version":   &types.AttributeValueMemberS{Value: next},
			"updatedAt": &types.AttributeValueMemberS{Value: c.now().UTC().Format(time.RFC3339Nano)},
		},
	}
	if version == "" {
		in.ConditionExpression = aws.String("attribute_not_exists(PK)")
	} else {
		in.ConditionExpression = aws.String("#v = :expected")
		in.ExpressionAttributeNames = map[string]string{"#v": "version"}
		in.ExpressionAttributeValues = map[string]types.AttributeValue{
			":expected": &types.AttributeValueMemberS{Value: version},
		}
	}

	_, err = c.api.PutItem(ctx, in)
	var ccf *types.ConditionalCheckFailedException
	switch {
	case err == nil:
		return nil
	case errors.As(err, &ccf) && version == "":
		return fmt.Errorf("repository: Put %s: %w", date, logstore.ErrAlreadyExists)
	case errors.As(err, &ccf):
		return fmt.Errorf("repository: Put %s: %w", date, logstore.ErrVersionConflict)
	default:
		return fmt.Errorf("repository: Put %s: %w", date, err)
	}
}

// List pages through every daily log under the prefix in sort key order.
func (c *Client) List(ctx context.Context) ([]logstore.Entry, error) {
	paginator := dynamodb.NewQueryPaginator(c.api, &dynamodb.QueryInput{
		TableName:              aws.String(c.tableName),
		KeyConditionExpression: aws.String("PK = :pk AND begins_with(SK, :prefix)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk":     &types.AttributeValueMemberS{Value: c.logPK()},
			":prefix": &types.AttributeValueMemberS{Value: skPrefixDay},
		},
		ProjectionExpression: aws.String("SK, updatedAt"),
	})

	var entries []logstore.Entry
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("repository: List query: %w", err)
		}
		for _, item := range page.Items {
			e, err := itemToEntry(item)
			if err != nil {
				return nil, fmt.Errorf("repository: List unmarshal: %w", err)
			}
			entries = append(entries, e)
		}
	}
	return entries, nil
}

func itemToEntry(item map[string]types.AttributeValue) (logstore.Entry, error) {
	sk, err := strAttr(item, "SK")
	if err != nil {
		return logstore.Entry{}, err
	}
	e := logstore.Entry{Date: strings.TrimPrefix(sk, skPrefixDay)}
	if raw, err := strAttr(item, "updatedAt"); err == nil {
		e.UpdatedAt, _ = time.Parse(time.RFC3339Nano, raw)
	}
	return e, nil
}

func strAttr(item map[string]types.AttributeValue, key string) (string, error) {
	v, ok := item[key]
	if !ok {
		return "", fmt.Errorf("repository: missing attribute %q", key)
	}
	s, ok := v.(*types.AttributeValueMemberS)
	if !ok {
		return "", fmt.Errorf("repository: attribute %q is not a string", key)
	}
	return s.Value, nil
}
