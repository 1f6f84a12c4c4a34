package session

import (
	"context"

	"RelayGate/logger"
	"RelayGate/service/registry"
)

// ResolveInput 随首个事件携带的用户识别信息，两个字段都可以为空。
type ResolveInput struct {
	Phone  string
	AuthID string
}

// Resolver 把用户识别信息解析成一个可用的后端地址。
// 查找顺序：手机号 -> 授权标识 -> 注册表第一个条目。
// 任何一步查不到、查到未知 id、或存储出错，都会继续往下兜底，
// 所以 Resolve 永远返回一个可用条目，不会失败。
type Resolver struct {
	store Store
	reg   *registry.Registry
}

func NewResolver(store Store, reg *registry.Registry) *Resolver {
	return &Resolver{store: store, reg: reg}
}

// Resolve 纯查询，无副作用；不重试、不校验可达性。
func (r *Resolver) Resolve(ctx context.Context, in ResolveInput) registry.Entry {
	if r.store != nil {
		if in.Phone != "" {
			if e, ok := r.tryLookup(ctx, "phone", in.Phone, r.store.LookupPhone); ok {
				return e
			}
		}
		if in.AuthID != "" {
			if e, ok := r.tryLookup(ctx, "auth", in.AuthID, r.store.LookupAuth); ok {
				return e
			}
		}
	}
	return r.reg.First()
}

func (r *Resolver) tryLookup(ctx context.Context, kind, key string,
	fn func(context.Context, string) (string, bool, error)) (registry.Entry, bool) {

	id, ok, err := fn(ctx, key)
	if err != nil {
		// 存储故障按查不到处理，不向客户端暴露
		logger.Warnf("[Resolver] %s lookup failed key=%s err=%v", kind, key, err)
		return registry.Entry{}, false
	}
	if !ok {
		return registry.Entry{}, false
	}
	e, known := r.reg.Get(id)
	if !known {
		logger.Warnf("[Resolver] %s lookup returned unknown backend id=%s key=%s", kind, id, key)
		return registry.Entry{}, false
	}
	return e, true
}
