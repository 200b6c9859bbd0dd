package kube

import (
	"fmt"
	"time"

	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
)

// DefaultNamespace используется, когда команда пришла без namespace.
const DefaultNamespace = "default"

type Config struct {
	Kubeconfig string        // Явный путь; пусто — in-cluster, затем стандартные правила kubectl
	Context    string        // Контекст kubeconfig; пусто — текущий
	Timeout    time.Duration // Таймаут запросов к API server
}

// RestConfig внутри кластера берёт ServiceAccount, локально — kubeconfig.
func RestConfig(cfg Config) (*rest.Config, error) {
	var (
		rc  *rest.Config
		err error
	)
	if cfg.Kubeconfig == "" {
		rc, err = rest.InClusterConfig()
	}
	if cfg.Kubeconfig != "" || err != nil {
		rules := clientcmd.NewDefaultClientConfigLoadingRules()
		rules.ExplicitPath = cfg.Kubeconfig
		overrides := &clientcmd.ConfigOverrides{CurrentContext: cfg.Context}
		rc, err = clientcmd.NewNonInteractiveDeferredLoadingClientConfig(rules, overrides).ClientConfig()
		if err != nil {
			return nil, fmt.Errorf("kube: load config: %w", err)
		}
	}
	if cfg.Timeout > 0 {
		rc.Timeout = cfg.Timeout
	}
	return rc, nil
}

func NewClientset(cfg Config) (kubernetes.Interface, error) {
	rc, err := RestConfig(cfg)
	if err != nil {
		return nil, err
	}
	cs, err := kubernetes.NewForConfig(rc)
	if err != nil {
		return nil, fmt.Errorf("kube: build clientset: %w", err)
	}
	return cs, nil
}
