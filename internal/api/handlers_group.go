package api

import "Murmur/internal/api/handler"

type HandlersGroup struct {
	UserHandler         *handler.UserHandler
	IMHandler           *handler.IMHandler
	WSHandler           *handler.WsHandler
	NotificationHandler *handler.NotificationHandler
}
