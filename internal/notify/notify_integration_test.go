//go:build integration

package notify_test

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"custodia/internal/approval"
	"custodia/internal/destruction"
	"custodia/internal/notify"
	"custodia/internal/platform/logger"
	id "custodia/pkg/domain"
	"custodia/pkg/testutil/containers"
)

const queueKey = "custodia:notifications"

type DispatcherRedisSuite struct {
	suite.Suite
	redis      *containers.RedisContainer
	dispatcher *notify.Dispatcher
}

func TestDispatcherRedisSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(DispatcherRedisSuite))
}

func (s *DispatcherRedisSuite) SetupSuite() {
	mgr := containers.GetManager()
	s.redis = mgr.GetRedis(s.T())
	s.dispatcher = notify.NewDispatcher(s.redis.Client, queueKey, logger.New())
}

func (s *DispatcherRedisSuite) SetupTest() {
	s.Require().NoError(s.redis.FlushAll(context.Background()))
}

func (s *DispatcherRedisSuite) pop() notify.Message {
	raw, err := s.redis.Client.RPop(context.Background(), queueKey).Result()
	s.Require().NoError(err)
	var msg notify.Message
	s.Require().NoError(json.Unmarshal([]byte(raw), &msg))
	return msg
}

func (s *DispatcherRedisSuite) TestStepAssignedLandsOnQueue() {
	s.dispatcher.StepAssigned(context.Background(), approval.Step{ApproverUser: "officer-1"})

	msg := s.pop()
	s.Equal(notify.KindStepAssigned, msg.Kind)
	s.Equal("officer-1", msg.Recipient)
}

func (s *DispatcherRedisSuite) TestGroupStepsAddressTheGroup() {
	s.dispatcher.StepAssigned(context.Background(), approval.Step{ApproverGroup: "compliance"})

	msg := s.pop()
	s.Equal("group:compliance", msg.Recipient)
}

func (s *DispatcherRedisSuite) TestQueuePreservesOrder() {
	ctx := context.Background()
	s.dispatcher.StepAssigned(ctx, approval.Step{ApproverUser: "first"})
	s.dispatcher.StepEscalated(ctx, approval.Step{ApproverUser: "second"})
	s.dispatcher.RequestResolved(ctx, destruction.Request{
		ID:           id.RequestID(uuid.New()),
		ContainerIDs: []id.ContainerID{id.ContainerID(uuid.New())},
		State:        destruction.RequestApproved,
		RequestedBy:  "clerk-1",
	})

	s.Equal("first", s.pop().Recipient)
	s.Equal("second", s.pop().Recipient)

	resolved := s.pop()
	s.Equal(notify.KindRequestResolved, resolved.Kind)
	s.Equal("clerk-1", resolved.Recipient)

	count, err := s.redis.Client.LLen(ctx, queueKey).Result()
	s.Require().NoError(err)
	s.Zero(count)
}
