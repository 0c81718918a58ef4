package data

import (
	"path/filepath"

	"golang.org/x/sync/errgroup"
)

// Catalog bundles every reference table the server loads at boot.
type Catalog struct {
	Items    *ItemTable
	Skills   *SkillTable
	Entities *EntityTable
	Drops    *DropTable
	Spawns   []SpawnPoint
	Maps     *MapTable
	Portals  *PortalTable
}

// LoadCatalog loads all reference data from dir. Tables are independent so
// they load concurrently; the first failure aborts the boot.
func LoadCatalog(dir string) (*Catalog, error) {
	c := &Catalog{}
	var g errgroup.Group

	g.Go(func() (err error) {
		c.Items, err = LoadItemTable(filepath.Join(dir, "items.yaml"))
		return err
	})
	g.Go(func() (err error) {
		c.Skills, err = LoadSkillTable(filepath.Join(dir, "skills.yaml"))
		return err
	})
	g.Go(func() (err error) {
		c.Entities, err = LoadEntityTable(filepath.Join(dir, "entities.yaml"))
		return err
	})
	g.Go(func() (err error) {
		c.Drops, err = LoadDropTable(filepath.Join(dir, "drops.yaml"))
		return err
	})
	g.Go(func() (err error) {
		c.Spawns, err = LoadSpawnList(filepath.Join(dir, "spawns.yaml"))
		return err
	})
	g.Go(func() (err error) {
		c.Maps, err = LoadMapTable(filepath.Join(dir, "maps.yaml"), filepath.Join(dir, "maps"))
		return err
	})
	g.Go(func() (err error) {
		c.Portals, err = LoadPortalTable(filepath.Join(dir, "portals.yaml"))
		return err
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return c, nil
}
