package kube

import (
	"context"
	"testing"
	"time"

	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes/fake"

	"github.com/deployra/dbrouter/internal/metadatacache"
)

func memberPod(name, replicaset, role, memberID, ip string) *corev1.Pod {
	return &corev1.Pod{
		ObjectMeta: metav1.ObjectMeta{
			Name: name,
			UID:  "11111111-1111-1111-1111-111111111111",
			Labels: map[string]string{
				ClusterLabel: replicaset,
				RoleLabel:    role,
				MemberLabel:  memberID,
			},
		},
		Status: corev1.PodStatus{PodIP: ip},
	}
}

func waitForSnapshot(t *testing.T, c *Cache, replicaset string, want int) []metadatacache.Instance {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if snap := c.Snapshot(replicaset); len(snap) == want {
			return snap
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("snapshot for %q never reached %d members", replicaset, want)
	return nil
}

func TestCacheListsExistingMembersOnStart(t *testing.T) {
	primary := memberPod("mysql-0", "demo", RoleValuePrimary, "m0", "10.0.0.1")
	secondary := memberPod("mysql-1", "demo", RoleValueSecondary, "m1", "10.0.0.2")
	secondary.UID = "22222222-2222-2222-2222-222222222222"

	clientset := fake.NewSimpleClientset(primary, secondary)
	c := newWithClientset(clientset, "", nil)
	c.Start()
	defer c.Stop()

	snap := waitForSnapshot(t, c, "demo", 2)

	var sawPrimary, sawSecondary bool
	for _, inst := range snap {
		switch inst.Role {
		case metadatacache.Primary:
			sawPrimary = true
			if inst.Endpoint.Host != "10.0.0.1" {
				t.Errorf("primary endpoint host = %q, want 10.0.0.1", inst.Endpoint.Host)
			}
		case metadatacache.Secondary:
			sawSecondary = true
		}
	}
	if !sawPrimary || !sawSecondary {
		t.Fatalf("expected one primary and one secondary, got %+v", snap)
	}
}

func TestCacheIgnoresPodsWithoutRecognizedRole(t *testing.T) {
	unlabeled := memberPod("mysql-0", "demo", "", "m0", "10.0.0.1")

	clientset := fake.NewSimpleClientset(unlabeled)
	c := newWithClientset(clientset, "", nil)
	c.Start()
	defer c.Stop()

	time.Sleep(100 * time.Millisecond)
	if snap := c.Snapshot("demo"); len(snap) != 0 {
		t.Fatalf("expected no members, got %+v", snap)
	}
}

func TestCacheWatchPicksUpRoleChange(t *testing.T) {
	clientset := fake.NewSimpleClientset()
	c := newWithClientset(clientset, "", nil)
	c.Start()
	defer c.Stop()

	pod := memberPod("mysql-0", "demo", RoleValueSecondary, "m0", "10.0.0.1")
	if _, err := clientset.CoreV1().Pods("").Create(context.Background(), pod, metav1.CreateOptions{}); err != nil {
		t.Fatal(err)
	}

	snap := waitForSnapshot(t, c, "demo", 1)
	if snap[0].Role != metadatacache.Secondary {
		t.Fatalf("role = %v, want Secondary", snap[0].Role)
	}

	pod.Labels[RoleLabel] = RoleValuePrimary
	if _, err := clientset.CoreV1().Pods("").Update(context.Background(), pod, metav1.UpdateOptions{}); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		snap := c.Snapshot("demo")
		if len(snap) == 1 && snap[0].Role == metadatacache.Primary {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("role change to PRIMARY was never observed")
}

func TestWaitPrimaryFailoverUnblocksOnPromotion(t *testing.T) {
	clientset := fake.NewSimpleClientset()
	c := newWithClientset(clientset, "", nil)
	c.Start()
	defer c.Stop()

	result := make(chan bool, 1)
	go func() {
		result <- c.WaitPrimaryFailover(context.Background(), "demo", 2*time.Second)
	}()

	time.Sleep(50 * time.Millisecond) // let the waiter register
	pod := memberPod("mysql-0", "demo", RoleValuePrimary, "m0", "10.0.0.1")
	if _, err := clientset.CoreV1().Pods("").Create(context.Background(), pod, metav1.CreateOptions{}); err != nil {
		t.Fatal(err)
	}

	select {
	case ok := <-result:
		if !ok {
			t.Fatal("WaitPrimaryFailover returned false, want true")
		}
	case <-time.After(3 * time.Second):
		t.Fatal("WaitPrimaryFailover never returned")
	}
}

func TestWaitPrimaryFailoverTimesOutWithoutPromotion(t *testing.T) {
	clientset := fake.NewSimpleClientset()
	c := newWithClientset(clientset, "", nil)
	c.Start()
	defer c.Stop()

	if c.WaitPrimaryFailover(context.Background(), "demo", 100*time.Millisecond) {
		t.Fatal("expected timeout (false), got true")
	}
}

func TestMarkUnreachableRecordsReport(t *testing.T) {
	clientset := fake.NewSimpleClientset()
	c := newWithClientset(clientset, "", nil)
	c.MarkUnreachable("some-uuid")

	c.mu.RLock()
	_, ok := c.unreachableAt["some-uuid"]
	c.mu.RUnlock()
	if !ok {
		t.Fatal("expected MarkUnreachable to record a timestamp")
	}
}
