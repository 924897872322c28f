package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"sync/atomic"

	"github.com/doug-martin/goqu/v9"
	"github.com/go-chi/chi/v5"

	"github.com/riverfall/changefeed/entity"
	"github.com/riverfall/changefeed/render"
	"github.com/riverfall/changefeed/store"
	"github.com/riverfall/changefeed/track"
)

// Device is the demo inventory entity. Its persistence layer fires the
// lifecycle signals around every mutation, the way a host ORM would.
type Device struct {
	ID   int64    `json:"id"`
	Name string   `json:"name"`
	Role string   `json:"role"`
	Tags []string `json:"tags"`
}

const deviceType = "inventory.Device"

func (d *Device) EntityType() string { return deviceType }

func (d *Device) EntityID() (int64, bool) { return d.ID, d.ID != 0 }

func deviceURL(id int64) string {
	return fmt.Sprintf("/api/devices/%d", id)
}

func registerDeviceRenderers(registry *render.Registry) {
	registry.Register(deviceType, render.VariantFull, render.RendererFunc(
		func(_ context.Context, e entity.Entity) (render.Document, error) {
			d, ok := e.(*Device)
			if !ok {
				return nil, fmt.Errorf("not a device: %T", e)
			}
			tags := make([]any, len(d.Tags))
			for i, t := range d.Tags {
				tags[i] = t
			}
			return render.Document{
				"id":   d.ID,
				"name": d.Name,
				"role": d.Role,
				"tags": tags,
				"url":  deviceURL(d.ID),
			}, nil
		}))

	registry.Register(deviceType, render.VariantNested, render.RendererFunc(
		func(_ context.Context, e entity.Entity) (render.Document, error) {
			d, ok := e.(*Device)
			if !ok {
				return nil, fmt.Errorf("not a device: %T", e)
			}
			return render.Document{
				"id":   d.ID,
				"name": d.Name,
				"url":  deviceURL(d.ID),
			}, nil
		}))
}

// deviceRepo is the demo persistence layer. Every mutation fires the
// pre/post lifecycle signals so the transaction bound to ctx can track it.
type deviceRepo interface {
	Create(ctx context.Context, d *Device) error
	Update(ctx context.Context, d *Device) error
	Delete(ctx context.Context, d *Device) error
	Get(ctx context.Context, id int64) (*Device, error)
}

// memoryDeviceRepo keeps devices in the in-memory entity store.
type memoryDeviceRepo struct {
	mem    *entity.Memory
	nextID atomic.Int64
}

func newMemoryDeviceRepo(mem *entity.Memory) *memoryDeviceRepo {
	return &memoryDeviceRepo{mem: mem}
}

func (r *memoryDeviceRepo) Create(ctx context.Context, d *Device) error {
	track.PreSave(ctx, d)
	d.ID = r.nextID.Add(1)
	r.mem.Put(d)
	track.PostSave(ctx, d)
	return nil
}

func (r *memoryDeviceRepo) Update(ctx context.Context, d *Device) error {
	track.PreSave(ctx, d)
	r.mem.Put(d)
	track.PostSave(ctx, d)
	return nil
}

func (r *memoryDeviceRepo) Delete(ctx context.Context, d *Device) error {
	track.PreDelete(ctx, d)
	r.mem.Delete(d.EntityType(), d.ID)
	track.PostDelete(ctx, d)
	return nil
}

// Get returns a copy: callers mutate the result in place, and the stored
// record must keep its pre-mutation values until Update commits them.
func (r *memoryDeviceRepo) Get(ctx context.Context, id int64) (*Device, error) {
	e, err := r.mem.Get(ctx, deviceType, id)
	if err != nil {
		return nil, err
	}
	d, ok := e.(*Device)
	if !ok {
		return nil, fmt.Errorf("not a device: %T", e)
	}

	clone := *d
	clone.Tags = append([]string(nil), d.Tags...)
	return &clone, nil
}

// sqlDeviceRepo persists devices in the SQL entity store. Tags are stored
// as a JSON array column.
type sqlDeviceRepo struct {
	store *store.SQLStore
}

func newSQLDeviceRepo(s *store.SQLStore) (*sqlDeviceRepo, error) {
	_, err := s.DB().Exec(`CREATE TABLE IF NOT EXISTS devices (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL,
		role TEXT NOT NULL DEFAULT '',
		tags TEXT NOT NULL DEFAULT '[]'
	)`)
	if err != nil {
		return nil, err
	}

	s.Bind(deviceType, "devices", bindDevice)
	return &sqlDeviceRepo{store: s}, nil
}

func bindDevice(row map[string]any) (entity.Entity, error) {
	d := &Device{}

	if id, ok := row["id"].(int64); ok {
		d.ID = id
	}
	if name, ok := row["name"].(string); ok {
		d.Name = name
	}
	if role, ok := row["role"].(string); ok {
		d.Role = role
	}
	if tags, ok := row["tags"].(string); ok {
		if err := json.Unmarshal([]byte(tags), &d.Tags); err != nil {
			return nil, fmt.Errorf("bad tags column: %w", err)
		}
	}
	return d, nil
}

func encodeTags(tags []string) (string, error) {
	if tags == nil {
		tags = []string{}
	}
	b, err := json.Marshal(tags)
	return string(b), err
}

func (r *sqlDeviceRepo) Create(ctx context.Context, d *Device) error {
	track.PreSave(ctx, d)

	tags, err := encodeTags(d.Tags)
	if err != nil {
		return err
	}

	query, args, err := goqu.Dialect("sqlite3").
		Insert("devices").
		Prepared(true).
		Rows(goqu.Record{"name": d.Name, "role": d.Role, "tags": tags}).
		ToSQL()
	if err != nil {
		return err
	}

	res, err := r.store.DB().ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	d.ID, err = res.LastInsertId()
	if err != nil {
		return err
	}

	track.PostSave(ctx, d)
	return nil
}

func (r *sqlDeviceRepo) Update(ctx context.Context, d *Device) error {
	track.PreSave(ctx, d)

	tags, err := encodeTags(d.Tags)
	if err != nil {
		return err
	}

	query, args, err := goqu.Dialect("sqlite3").
		Update("devices").
		Prepared(true).
		Set(goqu.Record{"name": d.Name, "role": d.Role, "tags": tags}).
		Where(goqu.C("id").Eq(d.ID)).
		ToSQL()
	if err != nil {
		return err
	}

	if _, err := r.store.DB().ExecContext(ctx, query, args...); err != nil {
		return err
	}

	track.PostSave(ctx, d)
	return nil
}

func (r *sqlDeviceRepo) Delete(ctx context.Context, d *Device) error {
	track.PreDelete(ctx, d)

	query, args, err := goqu.Dialect("sqlite3").
		Delete("devices").
		Prepared(true).
		Where(goqu.C("id").Eq(d.ID)).
		ToSQL()
	if err != nil {
		return err
	}

	if _, err := r.store.DB().ExecContext(ctx, query, args...); err != nil {
		return err
	}

	track.PostDelete(ctx, d)
	return nil
}

func (r *sqlDeviceRepo) Get(ctx context.Context, id int64) (*Device, error) {
	e, err := r.store.Get(ctx, deviceType, id)
	if err != nil {
		return nil, err
	}
	d, ok := e.(*Device)
	if !ok {
		return nil, fmt.Errorf("not a device: %T", e)
	}
	return d, nil
}

func registerDeviceRoutes(router chi.Router, repo deviceRepo) {
	router.Route("/api/devices", func(r chi.Router) {
		r.Post("/", func(w http.ResponseWriter, req *http.Request) {
			var d Device
			if err := json.NewDecoder(req.Body).Decode(&d); err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			d.ID = 0
			if err := repo.Create(req.Context(), &d); err != nil {
				http.Error(w, err.Error(), http.StatusInternalServerError)
				return
			}
			writeJSON(w, http.StatusCreated, &d)
		})

		r.Get("/{id}", func(w http.ResponseWriter, req *http.Request) {
			d, ok := loadDevice(w, req, repo)
			if !ok {
				return
			}
			writeJSON(w, http.StatusOK, d)
		})

		r.Put("/{id}", func(w http.ResponseWriter, req *http.Request) {
			d, ok := loadDevice(w, req, repo)
			if !ok {
				return
			}

			var update Device
			if err := json.NewDecoder(req.Body).Decode(&update); err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			d.Name = update.Name
			d.Role = update.Role
			d.Tags = update.Tags

			if err := repo.Update(req.Context(), d); err != nil {
				http.Error(w, err.Error(), http.StatusInternalServerError)
				return
			}
			writeJSON(w, http.StatusOK, d)
		})

		r.Delete("/{id}", func(w http.ResponseWriter, req *http.Request) {
			d, ok := loadDevice(w, req, repo)
			if !ok {
				return
			}
			if err := repo.Delete(req.Context(), d); err != nil {
				http.Error(w, err.Error(), http.StatusInternalServerError)
				return
			}
			w.WriteHeader(http.StatusNoContent)
		})
	})
}

func loadDevice(w http.ResponseWriter, req *http.Request, repo deviceRepo) (*Device, bool) {
	id, err := strconv.ParseInt(chi.URLParam(req, "id"), 10, 64)
	if err != nil {
		http.Error(w, "invalid device id", http.StatusBadRequest)
		return nil, false
	}

	d, err := repo.Get(req.Context(), id)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return nil, false
	}
	return d, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
