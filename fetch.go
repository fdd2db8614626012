package zgraph

import (
	"context"
	"maps"

	"golang.org/x/sync/errgroup"
)

// fetchTask is one entry of the work queue: objects to complete with the
// shape of a fetcher.
type fetchTask struct {
	objects []*Object
	fetcher *Fetcher
}

// fetchJob is one association load of a level. Tasks asking for the same
// association with the same child shape and filter share a job.
type fetchJob struct {
	key     string
	owner   *Fetcher
	field   *fetchField
	info    *assocInfo
	child   *Fetcher
	loadKey string

	objects []*Object
	seen    map[*Object]bool
	result  map[any][]*Object
}

// fetchEngine completes object graphs level by level. With a connection
// every load runs on it; without one each load takes its own connection
// scope and loads of a level run concurrently.
type fetchEngine struct {
	c     *Client
	conn  Conn
	arena *arena
}

func (c *Client) newFetchEngine(conn Conn) *fetchEngine {
	return &fetchEngine{c: c, conn: conn, arena: newArena()}
}

// Fetch loads the associations f describes onto objects, which must carry
// their ids. Objects are only updated when the whole fetch succeeds.
func (c *Client) Fetch(ctx context.Context, objects []*Object, f *Fetcher) error {
	if f == nil {
		return ErrNilPointer
	}
	if f.err != nil {
		return f.err
	}
	clones := make(map[*Object]*Object, len(objects))
	roots := make([]*Object, 0, len(objects))
	for _, o := range objects {
		if o == nil {
			return ErrNilPointer
		}
		if !o.typ.IsSubtypeOf(f.entity) {
			return newConfigError("fetch", o.typ.Name, "", "fetcher is for "+f.entity.Name)
		}
		if o.ID() == nil {
			return newConfigError("fetch", o.typ.Name, "", "object has no id")
		}
		if _, ok := clones[o]; ok {
			continue
		}
		cl := o.clone()
		clones[o] = cl
		roots = append(roots, cl)
	}
	if len(roots) == 0 || f.IsSimple() {
		return nil
	}

	var err error
	if c.fetchConcurrency > 1 {
		err = c.newFetchEngine(nil).run(ctx, roots, f)
	} else {
		err = c.reads.RunWithConnection(ctx, func(ctx context.Context, conn Conn) error {
			return c.newFetchEngine(conn).run(ctx, roots, f)
		})
	}
	if err != nil {
		return err
	}
	for o, cl := range clones {
		o.values = cl.values
		o.shapes = cl.shapes
	}
	return nil
}

func (o *Object) clone() *Object {
	return &Object{typ: o.typ, values: maps.Clone(o.values), shapes: maps.Clone(o.shapes)}
}

// run processes the work queue breadth first. A level issues at most one
// statement per job; the targets it loads form the next level.
func (e *fetchEngine) run(ctx context.Context, objects []*Object, f *Fetcher) error {
	if len(objects) == 0 || f == nil {
		return nil
	}
	if f.err != nil {
		return f.err
	}
	level := []fetchTask{{objects: objects, fetcher: f}}
	for depth := 0; len(level) > 0; depth++ {
		jobs, err := e.plan(level)
		if err != nil {
			return err
		}
		if err := e.load(ctx, jobs); err != nil {
			return err
		}
		level = e.assign(jobs)
		e.c.logger.DebugContext(ctx, "fetch level done", "depth", depth, "jobs", len(jobs), "objects", e.arena.len())
	}
	return nil
}

// plan merges the fields of a level into jobs. Objects whose association
// was already loaded with the same shape are left out.
func (e *fetchEngine) plan(level []fetchTask) ([]*fetchJob, error) {
	var jobs []*fetchJob
	byKey := make(map[string]*fetchJob)
	for _, task := range level {
		for _, fd := range task.fetcher.fields {
			info, err := resolveAssociation(e.c.meta, task.fetcher.entity, fd.prop.Name)
			if err != nil {
				return nil, err
			}
			child := task.fetcher.childOf(fd)
			if child != nil && child.IsSimple() {
				child = nil
			}
			lk := loadKey(shapeOf(info.target, child), fd.filterKey)
			key := task.fetcher.entity.Name + "." + fd.prop.Name + "|" + lk
			job, ok := byKey[key]
			if !ok {
				job = &fetchJob{
					key:     key,
					owner:   task.fetcher,
					field:   fd,
					info:    info,
					child:   child,
					loadKey: lk,
					seen:    make(map[*Object]bool),
				}
				byKey[key] = job
				jobs = append(jobs, job)
			}
			for _, o := range task.objects {
				if job.seen[o] || o.loadedWith(fd.prop.Name, lk) {
					continue
				}
				job.seen[o] = true
				job.objects = append(job.objects, o)
			}
		}
	}
	return jobs, nil
}

func loadKey(shape, filterKey string) string {
	if filterKey == "" {
		return shape
	}
	return shape + " @filter(" + filterKey + ")"
}

func (j *fetchJob) sources() []source {
	byID := make(map[any]int, len(j.objects))
	var out []source
	for _, o := range j.objects {
		k := idKey(o.ID())
		s := source{id: o.ID()}
		if j.info.sourceFK != "" {
			if ref, loaded := o.Ref(j.field.prop.Name); loaded {
				s.fkKnown = true
				if ref != nil {
					s.fk = ref.ID()
				}
			}
		}
		if i, ok := byID[k]; ok {
			if s.fkKnown && !out[i].fkKnown {
				out[i] = s
			}
			continue
		}
		byID[k] = len(out)
		out = append(out, s)
	}
	return out
}

func (j *fetchJob) assocLoad(c *Client) assocLoad {
	return assocLoad{c: c, info: j.info, child: j.child, filter: j.field.filter}
}

// load runs the jobs of a level.
func (e *fetchEngine) load(ctx context.Context, jobs []*fetchJob) error {
	if e.conn != nil {
		for _, job := range jobs {
			if err := e.loadJob(ctx, e.conn, job); err != nil {
				return err
			}
		}
		return nil
	}

	g, ctx := errgroup.WithContext(ctx)
	if e.c.fetchConcurrency > 0 {
		g.SetLimit(e.c.fetchConcurrency)
	}
	for _, job := range jobs {
		g.Go(func() error {
			return e.c.reads.RunWithConnection(ctx, func(ctx context.Context, conn Conn) error {
				return e.loadJob(ctx, conn, job)
			})
		})
	}
	return g.Wait()
}

func (e *fetchEngine) loadJob(ctx context.Context, conn Conn, job *fetchJob) error {
	if len(job.objects) == 0 {
		return nil
	}
	res, err := job.assocLoad(e.c).run(ctx, conn, job.sources())
	if err != nil {
		return &LoadError{Entity: job.owner.entity.Name, Association: job.field.prop.Name, Err: err}
	}
	job.result = res
	return nil
}

// assign stores the loaded targets on every object of every job and
// returns the next level. Targets are interned so that equal rows loaded
// with equal shapes are one object.
func (e *fetchEngine) assign(jobs []*fetchJob) []fetchTask {
	var next []fetchTask
	for _, job := range jobs {
		if len(job.objects) == 0 {
			continue
		}
		shape := shapeOf(job.info.target, job.child)
		canon := make(map[any][]*Object, len(job.result))
		var targets []*Object
		inLevel := make(map[*Object]bool)
		for _, o := range job.objects {
			k := idKey(o.ID())
			if _, done := canon[k]; done {
				continue
			}
			list := job.result[k]
			out := make([]*Object, len(list))
			for i, t := range list {
				out[i] = e.arena.intern(t, shape)
				if !inLevel[out[i]] {
					inLevel[out[i]] = true
					targets = append(targets, out[i])
				}
			}
			canon[k] = out
		}

		prop := job.field.prop
		for _, o := range job.objects {
			list := canon[idKey(o.ID())]
			if prop.IsList() {
				o.setAssociation(prop, list[:len(list):len(list)], job.loadKey)
				continue
			}
			var target *Object
			if len(list) > 0 {
				target = list[0]
			}
			if target == nil {
				o.setAssociation(prop, nil, job.loadKey)
			} else {
				o.setAssociation(prop, target, job.loadKey)
			}
		}

		if job.child != nil && len(targets) > 0 {
			next = append(next, fetchTask{objects: targets, fetcher: job.child})
		}
	}
	return next
}
