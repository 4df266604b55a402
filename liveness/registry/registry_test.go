package registry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"go.etcd.io/etcd/api/v3/etcdserverpb"
	mvccpb "go.etcd.io/etcd/api/v3/mvccpb"
	clientv3 "go.etcd.io/etcd/client/v3"
	"go.uber.org/mock/gomock"

	etcdmock "github.com/imtaco/stream-liveness/internal/etcd/mocks"
	"github.com/imtaco/stream-liveness/internal/log"
	"github.com/imtaco/stream-liveness/liveness/mocks"
)

const testPrefix = "/liveness/streams/"

type RegistryTestSuite struct {
	suite.Suite
	ctrl     *gomock.Controller
	client   *etcdmock.MockWatcher
	streams  *mocks.MockStreamController
	registry *Registry
}

func TestRegistrySuite(t *testing.T) {
	suite.Run(t, new(RegistryTestSuite))
}

func (s *RegistryTestSuite) SetupTest() {
	s.ctrl = gomock.NewController(s.T())
	s.client = etcdmock.NewMockWatcher(s.ctrl)
	s.streams = mocks.NewMockStreamController(s.ctrl)
	s.registry = New(s.client, Config{
		Enabled:    true,
		Prefix:     testPrefix,
		RetryDelay: 10 * time.Millisecond,
	}, s.streams, log.NewTest(s.T()))
}

func (s *RegistryTestSuite) TearDownTest() {
	_ = s.registry.Stop()
}

func getResponse(rev int64, keys ...string) *clientv3.GetResponse {
	kvs := make([]*mvccpb.KeyValue, 0, len(keys))
	for _, k := range keys {
		kvs = append(kvs, &mvccpb.KeyValue{Key: []byte(k), Value: []byte("1")})
	}
	return &clientv3.GetResponse{
		Header: &etcdserverpb.ResponseHeader{Revision: rev},
		Kvs:    kvs,
	}
}

func keyEvent(typ mvccpb.Event_EventType, key string) *clientv3.Event {
	return &clientv3.Event{Type: typ, Kv: &mvccpb.KeyValue{Key: []byte(key)}}
}

func (s *RegistryTestSuite) expectWatch() chan clientv3.WatchResponse {
	watchCh := make(chan clientv3.WatchResponse)
	s.client.EXPECT().
		Watch(gomock.Any(), testPrefix, gomock.Any(), gomock.Any()).
		Return((clientv3.WatchChan)(watchCh))
	return watchCh
}

// signal returns a channel closed by the returned func's first call.
func signal() (chan struct{}, func()) {
	ch := make(chan struct{})
	return ch, func() {
		select {
		case <-ch:
		default:
			close(ch)
		}
	}
}

func (s *RegistryTestSuite) wait(ch <-chan struct{}) {
	s.T().Helper()
	select {
	case <-ch:
	case <-time.After(2 * time.Second):
		s.FailNow("timed out")
	}
}

func (s *RegistryTestSuite) TestInitialSyncAddsValidKeys() {
	s.client.EXPECT().
		Get(gomock.Any(), testPrefix, gomock.Any()).
		Return(getResponse(100,
			testPrefix+"cam-1",
			testPrefix+"cam-2",
			testPrefix+"nested/cam",
			testPrefix+"bad id",
		), nil)
	s.expectWatch()

	s.streams.EXPECT().AddStream("cam-1").Return(true)
	s.streams.EXPECT().AddStream("cam-2").Return(true)

	s.Require().NoError(s.registry.Start(context.Background()))
}

func (s *RegistryTestSuite) TestWatchPutAndDelete() {
	s.client.EXPECT().
		Get(gomock.Any(), testPrefix, gomock.Any()).
		Return(getResponse(100), nil)
	watchCh := s.expectWatch()

	removed, done := signal()
	gomock.InOrder(
		s.streams.EXPECT().AddStream("cam-1").Return(true),
		s.streams.EXPECT().RemoveStream("cam-1").DoAndReturn(func(string) bool {
			done()
			return true
		}),
	)

	s.Require().NoError(s.registry.Start(context.Background()))

	watchCh <- clientv3.WatchResponse{Events: []*clientv3.Event{
		keyEvent(mvccpb.PUT, testPrefix+"cam-1"),
		// repeated put of an owned stream is a no-op
		keyEvent(mvccpb.PUT, testPrefix+"cam-1"),
	}}
	watchCh <- clientv3.WatchResponse{Events: []*clientv3.Event{
		keyEvent(mvccpb.DELETE, testPrefix+"cam-1"),
	}}

	s.wait(removed)
}

func (s *RegistryTestSuite) TestForeignStreamIsNotRemoved() {
	s.client.EXPECT().
		Get(gomock.Any(), testPrefix, gomock.Any()).
		Return(getResponse(100, testPrefix+"static"), nil)
	watchCh := s.expectWatch()

	added, done := signal()
	// already monitored from config, so the registry does not own it
	s.streams.EXPECT().AddStream("static").Return(false)
	s.streams.EXPECT().AddStream("cam-9").DoAndReturn(func(string) bool {
		done()
		return true
	})

	s.Require().NoError(s.registry.Start(context.Background()))

	watchCh <- clientv3.WatchResponse{Events: []*clientv3.Event{
		keyEvent(mvccpb.DELETE, testPrefix+"static"),
		keyEvent(mvccpb.PUT, testPrefix+"cam-9"),
	}}

	// RemoveStream has no expectation, gomock fails the test if it is called
	s.wait(added)
}

func (s *RegistryTestSuite) TestWatchErrorResyncs() {
	gomock.InOrder(
		s.client.EXPECT().
			Get(gomock.Any(), testPrefix, gomock.Any()).
			Return(getResponse(100, testPrefix+"cam-1", testPrefix+"cam-2"), nil),
		s.client.EXPECT().
			Get(gomock.Any(), testPrefix, gomock.Any()).
			Return(getResponse(250, testPrefix+"cam-2", testPrefix+"cam-3"), nil),
	)
	firstWatch := s.expectWatch()
	s.expectWatch()

	s.streams.EXPECT().AddStream("cam-1").Return(true)
	s.streams.EXPECT().AddStream("cam-2").Return(true)

	resynced, done := signal()
	s.streams.EXPECT().RemoveStream("cam-1").Return(true)
	s.streams.EXPECT().AddStream("cam-3").DoAndReturn(func(string) bool {
		done()
		return true
	})

	s.Require().NoError(s.registry.Start(context.Background()))

	firstWatch <- clientv3.WatchResponse{CompactRevision: 90}

	s.wait(resynced)
}

func (s *RegistryTestSuite) TestClosedWatchResyncs() {
	gomock.InOrder(
		s.client.EXPECT().
			Get(gomock.Any(), testPrefix, gomock.Any()).
			Return(getResponse(100), nil),
		s.client.EXPECT().
			Get(gomock.Any(), testPrefix, gomock.Any()).
			Return(getResponse(120, testPrefix+"cam-1"), nil),
	)
	firstWatch := s.expectWatch()
	s.expectWatch()

	added, done := signal()
	s.streams.EXPECT().AddStream("cam-1").DoAndReturn(func(string) bool {
		done()
		return true
	})

	s.Require().NoError(s.registry.Start(context.Background()))
	close(firstWatch)

	s.wait(added)
}

func (s *RegistryTestSuite) TestStartGetErrorTimesOut() {
	s.client.EXPECT().
		Get(gomock.Any(), testPrefix, gomock.Any()).
		Return(nil, errors.New("etcd down")).
		AnyTimes()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	err := s.registry.Start(ctx)
	s.Require().ErrorIs(err, context.DeadlineExceeded)
}

func (s *RegistryTestSuite) TestStopWithoutStart() {
	s.Require().NoError(s.registry.Stop())
}
