package pool

import (
	"context"
	"testing"

	"github.com/skypoolhq/skypool/httputils"
)

func TestHandleAssignRequest(t *testing.T) {
	host := newMockHostHandler()
	m := newTestManager(t, host, DefaultScalingPolicy())
	addWarmInstance(m, "i-warm1")

	req := &httputils.InstanceAssignRequest{
		Regions:   []string{"us-east-1"},
		UserEmail: "alice@example.com",
	}
	req.CreateResultChan()

	go m.handleAssignRequest(context.Background(), ScalingEvent{
		Type: ServerInstanceAssignEvent,
		Data: req,
	})

	res := <-req.ResultChan
	if res.Err != nil {
		t.Fatalf("assign request returned an error: %s", res.Err)
	}

	result := res.Result.(httputils.InstanceAssignRequestResult)
	if result.InstanceID != "i-warm1" {
		t.Errorf("expected the warm instance, got %s", result.InstanceID)
	}

	if result.Address == "" || result.Port == 0 {
		t.Errorf("expected a connectable result, got %+v", result)
	}
}

func TestHandleAssignRequestRejectsWrongRegion(t *testing.T) {
	host := newMockHostHandler()
	m := newTestManager(t, host, DefaultScalingPolicy())
	addWarmInstance(m, "i-warm1")

	req := &httputils.InstanceAssignRequest{
		Regions:   []string{"eu-west-1"},
		UserEmail: "alice@example.com",
	}
	req.CreateResultChan()

	go m.handleAssignRequest(context.Background(), ScalingEvent{
		Type: ServerInstanceAssignEvent,
		Data: req,
	})

	res := <-req.ResultChan
	if res.Err == nil {
		t.Fatal("expected an error for a region this pool does not serve")
	}

	if host.launchCount() != 0 {
		t.Errorf("expected no provisioning for a rejected request, got %d", host.launchCount())
	}
}

func TestHandleReleaseRequest(t *testing.T) {
	host := newMockHostHandler()
	m := newTestManager(t, host, DefaultScalingPolicy())
	addAssignedInstance(t, m, "i-used1", "alice")

	req := &httputils.InstanceReleaseRequest{
		InstanceID: "i-used1",
		Reclaim:    true,
	}
	req.CreateResultChan()

	go m.handleReleaseRequest(context.Background(), ScalingEvent{
		Type: ServerInstanceReleaseEvent,
		Data: req,
	})

	res := <-req.ResultChan
	if res.Err != nil {
		t.Fatalf("release request returned an error: %s", res.Err)
	}

	m.lock.Lock()
	_, isWarm := m.warm["i-used1"]
	m.lock.Unlock()
	if !isWarm {
		t.Error("expected the released instance to be reclaimed as warm")
	}
}

func TestHandleActivityRequest(t *testing.T) {
	host := newMockHostHandler()
	m := newTestManager(t, host, DefaultScalingPolicy())
	s := addAssignedInstance(t, m, "i-used1", "alice")

	req := &httputils.SessionActivityRequest{SessionID: s.ID}
	req.CreateResultChan()

	go m.handleActivityRequest(ScalingEvent{
		Type: ServerSessionActivityEvent,
		Data: req,
	})

	res := <-req.ResultChan
	if res.Err != nil {
		t.Fatalf("activity request returned an error: %s", res.Err)
	}

	unknown := &httputils.SessionActivityRequest{SessionID: "unknown"}
	unknown.CreateResultChan()

	go m.handleActivityRequest(ScalingEvent{
		Type: ServerSessionActivityEvent,
		Data: unknown,
	})

	if res := <-unknown.ResultChan; res.Err == nil {
		t.Error("expected an error for an unknown session")
	}
}
