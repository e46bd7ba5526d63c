// Package kube is the Kubernetes-backed implementation of
// metadatacache.Cache: it list-and-watches Pods labeled as members of a
// MySQL InnoDB-cluster-style replicaset and keeps an in-memory snapshot of
// their role and address, generalized from the teacher's Service
// list+watch loop (proxies/web/pkg/kubernetes/client.go) to Pods and a
// role label instead of domain labels.
package kube

import (
	"context"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"

	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/watch"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
	"k8s.io/client-go/util/homedir"

	"github.com/deployra/dbrouter/internal/metadatacache"
	"github.com/deployra/dbrouter/internal/netio"
)

// Labels a member Pod is expected to carry. ClusterLabel groups Pods into
// a replicaset (its value is the name passed to Snapshot); RoleLabel
// reports replication role.
const (
	ClusterLabel = "mysql.oracle.com/cluster"
	RoleLabel    = "mysql.oracle.com/cluster-role"
	MemberLabel  = "mysql.oracle.com/member-id"

	RoleValuePrimary   = "PRIMARY"
	RoleValueSecondary = "SECONDARY"

	// PortAnnotation overrides the default classic-protocol port per Pod;
	// absent, DefaultMySQLPort is assumed.
	PortAnnotation   = "dbrouter.io/mysql-port"
	DefaultMySQLPort = 3306

	relistBackoff = 5 * time.Second
)

// Cache watches a namespace (or all namespaces, if empty) for member Pods
// and serves metadatacache.Cache reads from an in-memory snapshot kept
// current by a background watch loop. Zero value is not usable; construct
// with New.
type Cache struct {
	clientset kubernetes.Interface
	namespace string
	logger    hclog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	mu             sync.RWMutex
	members        map[string]map[string]metadatacache.Instance // replicaset -> uuid -> instance
	primaryOf      map[string]string                             // replicaset -> uuid of current primary, "" if none
	primaryWaiters map[string][]chan struct{}
	unreachableAt  map[string]time.Time
}

// New builds a Cache from a kubeconfig path (empty string tries in-cluster
// config first, then ~/.kube/config) scoped to namespace (empty string
// means all namespaces the service account can list).
func New(kubeConfigPath, namespace string, logger hclog.Logger) (*Cache, error) {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}

	config, err := loadConfig(kubeConfigPath)
	if err != nil {
		return nil, err
	}

	clientset, err := kubernetes.NewForConfig(config)
	if err != nil {
		return nil, fmt.Errorf("kube: building clientset: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Cache{
		clientset:      clientset,
		namespace:      namespace,
		logger:         logger.Named("metadatacache.kube"),
		ctx:            ctx,
		cancel:         cancel,
		done:           make(chan struct{}),
		members:        make(map[string]map[string]metadatacache.Instance),
		primaryOf:      make(map[string]string),
		primaryWaiters: make(map[string][]chan struct{}),
		unreachableAt:  make(map[string]time.Time),
	}, nil
}

// newWithClientset builds a Cache around an already-constructed client,
// bypassing kubeconfig discovery — used by tests to inject a fake
// clientset.
func newWithClientset(clientset kubernetes.Interface, namespace string, logger hclog.Logger) *Cache {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Cache{
		clientset:      clientset,
		namespace:      namespace,
		logger:         logger.Named("metadatacache.kube"),
		ctx:            ctx,
		cancel:         cancel,
		done:           make(chan struct{}),
		members:        make(map[string]map[string]metadatacache.Instance),
		primaryOf:      make(map[string]string),
		primaryWaiters: make(map[string][]chan struct{}),
		unreachableAt:  make(map[string]time.Time),
	}
}

func loadConfig(kubeConfigPath string) (*rest.Config, error) {
	if kubeConfigPath == "" {
		if config, err := rest.InClusterConfig(); err == nil {
			return config, nil
		}
		home := homedir.HomeDir()
		if home == "" {
			return nil, fmt.Errorf("kube: no in-cluster config and no home directory for a default kubeconfig")
		}
		kubeConfigPath = filepath.Join(home, ".kube", "config")
	} else if strings.HasPrefix(kubeConfigPath, "~/") {
		kubeConfigPath = filepath.Join(homedir.HomeDir(), kubeConfigPath[2:])
	}

	config, err := clientcmd.BuildConfigFromFlags("", kubeConfigPath)
	if err != nil {
		return nil, fmt.Errorf("kube: loading kubeconfig %s: %w", kubeConfigPath, err)
	}
	return config, nil
}

// Start begins the background list+watch loop. It returns immediately;
// the first Snapshot may be empty until the initial list completes.
func (c *Cache) Start() {
	go c.run()
}

// Stop cancels the watch loop and waits for it to exit.
func (c *Cache) Stop() {
	c.cancel()
	<-c.done
}

func (c *Cache) run() {
	defer close(c.done)

	for {
		select {
		case <-c.ctx.Done():
			return
		default:
		}

		pods, err := c.clientset.CoreV1().Pods(c.namespace).List(c.ctx, metav1.ListOptions{
			LabelSelector: ClusterLabel,
		})
		if err != nil {
			c.logger.Error("listing member pods", "error", err)
			if !c.sleepOrDone(relistBackoff) {
				return
			}
			continue
		}

		c.mu.Lock()
		c.members = make(map[string]map[string]metadatacache.Instance)
		c.primaryOf = make(map[string]string)
		c.mu.Unlock()
		for i := range pods.Items {
			c.applyPod(&pods.Items[i])
		}

		watcher, err := c.clientset.CoreV1().Pods(c.namespace).Watch(c.ctx, metav1.ListOptions{
			LabelSelector:   ClusterLabel,
			ResourceVersion: pods.ResourceVersion,
		})
		if err != nil {
			c.logger.Error("watching member pods", "error", err)
			if !c.sleepOrDone(relistBackoff) {
				return
			}
			continue
		}

		c.consumeWatch(watcher)
		if !c.sleepOrDone(relistBackoff) {
			return
		}
	}
}

func (c *Cache) consumeWatch(watcher watch.Interface) {
	defer watcher.Stop()
	for {
		select {
		case <-c.ctx.Done():
			return
		case event, ok := <-watcher.ResultChan():
			if !ok {
				return
			}
			pod, ok := event.Object.(*corev1.Pod)
			if !ok {
				continue
			}
			switch event.Type {
			case watch.Added, watch.Modified:
				c.applyPod(pod)
			case watch.Deleted:
				c.removePod(pod)
			}
		}
	}
}

func (c *Cache) sleepOrDone(d time.Duration) bool {
	select {
	case <-c.ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}

func (c *Cache) applyPod(pod *corev1.Pod) {
	replicaset := pod.Labels[ClusterLabel]
	if replicaset == "" || pod.Status.PodIP == "" {
		return
	}

	role := parseRole(pod.Labels[RoleLabel])
	if role == metadatacache.RoleUnknown {
		c.logger.Warn("member pod has no recognized role label, ignoring", "pod", pod.Name, "role_label", pod.Labels[RoleLabel])
		return
	}

	memberID := memberUUID(pod)

	port := DefaultMySQLPort
	if v := pod.Annotations[PortAnnotation]; v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 && parsed < 1<<16 {
			port = parsed
		}
	}

	instance := metadatacache.Instance{
		UUID:     memberID,
		Endpoint: netio.Endpoint{Host: pod.Status.PodIP, Port: uint16(port)},
		Role:     role,
	}

	c.mu.Lock()
	if c.members[replicaset] == nil {
		c.members[replicaset] = make(map[string]metadatacache.Instance)
	}
	c.members[replicaset][memberID] = instance

	wasPrimary := c.primaryOf[replicaset]
	if role == metadatacache.Primary {
		c.primaryOf[replicaset] = memberID
	} else if wasPrimary == memberID {
		c.primaryOf[replicaset] = ""
	}
	primaryChanged := role == metadatacache.Primary && wasPrimary != memberID
	c.mu.Unlock()

	if primaryChanged {
		c.notifyPrimaryChanged(replicaset)
	}
}

func (c *Cache) removePod(pod *corev1.Pod) {
	replicaset := pod.Labels[ClusterLabel]
	if replicaset == "" {
		return
	}
	memberID := memberUUID(pod)

	c.mu.Lock()
	if members := c.members[replicaset]; members != nil {
		delete(members, memberID)
	}
	if c.primaryOf[replicaset] == memberID {
		c.primaryOf[replicaset] = ""
	}
	c.mu.Unlock()
}

// memberUUID derives the stable Instance.UUID for a pod: the member-id
// label if it's already a well-formed UUID, a deterministic UUID derived
// from it otherwise (labels can't contain arbitrary UUID syntax reliably),
// and finally the pod's own UID (itself assigned as a UUID by the API
// server) when no member-id label is set.
func memberUUID(pod *corev1.Pod) string {
	if label := pod.Labels[MemberLabel]; label != "" {
		if parsed, err := uuid.Parse(label); err == nil {
			return parsed.String()
		}
		return uuid.NewSHA1(uuid.NameSpaceOID, []byte(label)).String()
	}
	if parsed, err := uuid.Parse(string(pod.UID)); err == nil {
		return parsed.String()
	}
	return string(pod.UID)
}

func parseRole(label string) metadatacache.Role {
	switch label {
	case RoleValuePrimary:
		return metadatacache.Primary
	case RoleValueSecondary:
		return metadatacache.Secondary
	default:
		return metadatacache.RoleUnknown
	}
}

// Snapshot implements metadatacache.Cache.
func (c *Cache) Snapshot(replicaset string) []metadatacache.Instance {
	c.mu.RLock()
	defer c.mu.RUnlock()

	members := c.members[replicaset]
	out := make([]metadatacache.Instance, 0, len(members))
	for _, inst := range members {
		out = append(out, inst)
	}
	return out
}

// MarkUnreachable implements metadatacache.Cache. The Kubernetes watch
// loop is already the authority on membership, so there is no separate
// probe to accelerate; this records the report for observability only.
func (c *Cache) MarkUnreachable(memberID string) {
	c.mu.Lock()
	c.unreachableAt[memberID] = time.Now()
	c.mu.Unlock()
	c.logger.Debug("member reported unreachable", "uuid", memberID)
}

// WaitPrimaryFailover implements metadatacache.Cache.
func (c *Cache) WaitPrimaryFailover(ctx context.Context, replicaset string, timeout time.Duration) bool {
	ch := make(chan struct{}, 1)
	c.mu.Lock()
	c.primaryWaiters[replicaset] = append(c.primaryWaiters[replicaset], ch)
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		waiters := c.primaryWaiters[replicaset]
		for i, w := range waiters {
			if w == ch {
				c.primaryWaiters[replicaset] = append(waiters[:i], waiters[i+1:]...)
				break
			}
		}
		c.mu.Unlock()
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-ch:
		return true
	case <-timer.C:
		return false
	case <-ctx.Done():
		return false
	}
}

func (c *Cache) notifyPrimaryChanged(replicaset string) {
	c.mu.Lock()
	waiters := c.primaryWaiters[replicaset]
	c.mu.Unlock()

	for _, ch := range waiters {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}
