// Package kube исполняет действия над объектами Kubernetes: удаление подов и деплойментов, просмотр списков.
package kube

import (
	"context"
	"fmt"

	"github.com/xela07ax/approval-gateway/internal/dispatch"
	"github.com/xela07ax/approval-gateway/internal/domain"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
)

type Client struct {
	cs kubernetes.Interface
}

func NewClient(cs kubernetes.Interface) *Client {
	return &Client{cs: cs}
}

func namespaceOrDefault(ns string) string {
	if ns == "" {
		return DefaultNamespace
	}
	return ns
}

// outcome разделяет отказ по существу (нет объекта, нет прав) и сбой API.
// Первое — Result{error}, второе — error, который считает предохранитель.
func outcome(op string, err error) (domain.Result, error) {
	switch {
	case apierrors.IsNotFound(err), apierrors.IsForbidden(err), apierrors.IsConflict(err),
		apierrors.IsInvalid(err), apierrors.IsBadRequest(err), apierrors.IsUnauthorized(err):
		return domain.Failure(err.Error()), nil
	default:
		return domain.Result{}, fmt.Errorf("%s: %w", op, err)
	}
}

func (c *Client) DeletePod(ctx context.Context, namespace, name string) (domain.Result, error) {
	namespace = namespaceOrDefault(namespace)
	if err := c.cs.CoreV1().Pods(namespace).Delete(ctx, name, metav1.DeleteOptions{}); err != nil {
		return outcome("delete pod", err)
	}
	return domain.Success(fmt.Sprintf("Pod %s deleted", name), map[string]any{
		"name":      name,
		"namespace": namespace,
	}), nil
}

func (c *Client) DeleteDeployment(ctx context.Context, namespace, name string) (domain.Result, error) {
	namespace = namespaceOrDefault(namespace)
	if err := c.cs.AppsV1().Deployments(namespace).Delete(ctx, name, metav1.DeleteOptions{}); err != nil {
		return outcome("delete deployment", err)
	}
	return domain.Success(fmt.Sprintf("Deployment %s deleted", name), map[string]any{
		"name":      name,
		"namespace": namespace,
	}), nil
}

func (c *Client) ListPods(ctx context.Context, namespace string) (domain.Result, error) {
	namespace = namespaceOrDefault(namespace)
	list, err := c.cs.CoreV1().Pods(namespace).List(ctx, metav1.ListOptions{})
	if err != nil {
		return outcome("list pods", err)
	}

	pods := make([]map[string]any, 0, len(list.Items))
	for _, p := range list.Items {
		node := p.Spec.NodeName
		if node == "" {
			node = "Unknown"
		}
		pods = append(pods, map[string]any{
			"name":   p.Name,
			"status": string(p.Status.Phase),
			"node":   node,
		})
	}
	return domain.Success(fmt.Sprintf("%d pods in %s", len(pods), namespace), map[string]any{"pods": pods}), nil
}

func (c *Client) ListDeployments(ctx context.Context, namespace string) (domain.Result, error) {
	namespace = namespaceOrDefault(namespace)
	list, err := c.cs.AppsV1().Deployments(namespace).List(ctx, metav1.ListOptions{})
	if err != nil {
		return outcome("list deployments", err)
	}

	deps := make([]map[string]any, 0, len(list.Items))
	for _, d := range list.Items {
		var desired int32
		if d.Spec.Replicas != nil {
			desired = *d.Spec.Replicas
		}
		deps = append(deps, map[string]any{
			"name":      d.Name,
			"ready":     d.Status.ReadyReplicas,
			"available": d.Status.AvailableReplicas,
			"desired":   desired,
		})
	}
	return domain.Success(fmt.Sprintf("%d deployments in %s", len(deps), namespace), map[string]any{"deployments": deps}), nil
}

// PodExecutor — исполнитель подтверждённых команд для типа pod.
func (c *Client) PodExecutor() dispatch.Executor {
	return dispatch.ExecutorFunc(func(ctx context.Context, cmd domain.PendingCommand) (domain.Result, error) {
		return c.DeletePod(ctx, cmd.Namespace, cmd.ResourceName)
	})
}

func (c *Client) DeploymentExecutor() dispatch.Executor {
	return dispatch.ExecutorFunc(func(ctx context.Context, cmd domain.PendingCommand) (domain.Result, error) {
		return c.DeleteDeployment(ctx, cmd.Namespace, cmd.ResourceName)
	})
}
