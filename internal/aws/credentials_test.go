package aws

import (
	"context"
	"errors"
	"testing"
	"time"

	awssdk "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	ststypes "github.com/aws/aws-sdk-go-v2/service/sts/types"

	"github.com/ppiankov/wastespectre/internal/model"
)

type mockSTSClient struct {
	assumeCalls int
	lastInput   *sts.AssumeRoleInput
	err         error
}

func (m *mockSTSClient) AssumeRole(_ context.Context, input *sts.AssumeRoleInput, _ ...func(*sts.Options)) (*sts.AssumeRoleOutput, error) {
	m.assumeCalls++
	m.lastInput = input
	if m.err != nil {
		return nil, m.err
	}
	return &sts.AssumeRoleOutput{Credentials: &ststypes.Credentials{
		AccessKeyId:     awssdk.String("AKIDASSUMED"),
		SecretAccessKey: awssdk.String("secret"),
		SessionToken:    awssdk.String("token"),
		Expiration:      awssdk.Time(time.Now().Add(time.Hour)),
	}}, nil
}

func (m *mockSTSClient) GetCallerIdentity(_ context.Context, _ *sts.GetCallerIdentityInput, _ ...func(*sts.Options)) (*sts.GetCallerIdentityOutput, error) {
	return &sts.GetCallerIdentityOutput{Account: awssdk.String(testAccount)}, nil
}

func newTestResolver(stsClient STSAPI) *RoleResolver {
	r := NewRoleResolver(awssdk.Config{
		Region:      "us-east-1",
		Credentials: credentials.NewStaticCredentialsProvider("AKIDBASE", "secret", ""),
	})
	r.newSTS = func(awssdk.Config) STSAPI { return stsClient }
	return r
}

func TestRoleResolver_BaseCredentials(t *testing.T) {
	mock := &mockSTSClient{}
	creds, err := newTestResolver(mock).Resolve(context.Background(), model.Account{ID: testAccount}, "us-east-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	v, err := creds.Retrieve(context.Background())
	if err != nil || v.AccessKeyID != "AKIDBASE" {
		t.Fatalf("expected base credentials, got %q (%v)", v.AccessKeyID, err)
	}
	if mock.assumeCalls != 0 {
		t.Fatalf("expected no AssumeRole calls, got %d", mock.assumeCalls)
	}
}

func TestRoleResolver_NoCredentials(t *testing.T) {
	r := NewRoleResolver(awssdk.Config{})
	if _, err := r.Resolve(context.Background(), model.Account{ID: testAccount}, "us-east-1"); !errors.Is(err, ErrNoCredentials) {
		t.Fatalf("expected ErrNoCredentials, got %v", err)
	}
}

func TestRoleResolver_AssumesAndCachesRole(t *testing.T) {
	mock := &mockSTSClient{}
	r := newTestResolver(mock)
	account := model.Account{ID: "210987654321", RoleARN: "arn:aws:iam::210987654321:role/audit", ExternalID: "ext-1"}

	for i := 0; i < 2; i++ {
		creds, err := r.Resolve(context.Background(), account, "eu-west-1")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		v, _ := creds.Retrieve(context.Background())
		if v.AccessKeyID != "AKIDASSUMED" {
			t.Fatalf("expected assumed credentials, got %q", v.AccessKeyID)
		}
	}
	if mock.assumeCalls != 1 {
		t.Fatalf("expected cached credentials, got %d AssumeRole calls", mock.assumeCalls)
	}
	if awssdk.ToString(mock.lastInput.ExternalId) != "ext-1" {
		t.Fatalf("expected external ID, got %q", awssdk.ToString(mock.lastInput.ExternalId))
	}
	if awssdk.ToString(mock.lastInput.RoleSessionName) != "wastespectre" {
		t.Fatalf("expected default session name, got %q", awssdk.ToString(mock.lastInput.RoleSessionName))
	}
}

func TestRoleResolver_AssumeRoleFailure(t *testing.T) {
	r := newTestResolver(&mockSTSClient{err: errors.New("AccessDenied")})
	account := model.Account{ID: "210987654321", RoleARN: "arn:aws:iam::210987654321:role/audit"}
	if _, err := r.Resolve(context.Background(), account, "us-east-1"); err == nil {
		t.Fatal("expected error when AssumeRole fails")
	}
}

func TestCallerAccountID(t *testing.T) {
	id, err := CallerAccountID(context.Background(), &mockSTSClient{})
	if err != nil || id != testAccount {
		t.Fatalf("expected %s, got %q (%v)", testAccount, id, err)
	}
}
