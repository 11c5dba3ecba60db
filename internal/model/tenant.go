package model

type Tenant struct {
	ID        string `json:"id" db:"id"`
	Name      string `json:"name" db:"name"`
	FolderRef string `json:"folder_ref" db:"folder_ref"`
	AutoSync  bool   `json:"auto_sync" db:"auto_sync"`
	Ctime     int64  `json:"ctime" db:"ctime"`
	Mtime     int64  `json:"mtime" db:"mtime"`
}
