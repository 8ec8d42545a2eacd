package proxmox

import (
	"context"
	"os"
	"strconv"
)

// ContainerExecutor runs commands inside one container through pct on its
// node. It satisfies executor.CommandExecutor.
type ContainerExecutor struct {
	svc *Impl
	id  int
}

// Container returns an executor scoped to container id.
func (s *Impl) Container(id int) *ContainerExecutor {
	return &ContainerExecutor{svc: s, id: id}
}

// Execute runs name with args inside the container.
func (c *ContainerExecutor) Execute(ctx context.Context, name string, args ...string) ([]byte, error) {
	pctArgs := append([]string{"exec", strconv.Itoa(c.id), "--", name}, args...)
	return c.svc.executor.Execute(ctx, "pct", pctArgs...)
}

// WriteFile pushes data to path inside the container.
func (c *ContainerExecutor) WriteFile(ctx context.Context, path string, data []byte, perm os.FileMode) error {
	return c.svc.Push(ctx, c.id, path, data, perm)
}
